package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
)

func TestGenerateHTML(t *testing.T) {
	dir := t.TempDir()
	ok := result("a", core.RecordingCompleted)
	ok.GifPath = filepath.Join(dir, "demo_a.gif")
	failed := result("b", core.RecordingFailed)
	failed.Name = "<script>alert(1)</script>"

	index := &Index{Recordings: []core.RecordingResult{*ok, *failed}}
	if err := GenerateHTML(dir, index, HTMLConfig{}); err != nil {
		t.Fatalf("GenerateHTML() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, HTMLFile))
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	html := string(data)

	checks := []string{
		"<title>Screencast Recordings</title>",
		`src="demo_a.gif"`,
		"2 recordings, 1 completed, 1 failed",
		`class="status failed"`,
		"12.0s",
		"2.0 KB",
	}
	for _, c := range checks {
		if !strings.Contains(html, c) {
			t.Errorf("HTML missing %q", c)
		}
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("recording name not escaped")
	}
	// Newest first.
	if strings.Index(html, "status failed") > strings.Index(html, "status completed") {
		t.Error("recordings not listed newest first")
	}
}

func TestAppendWritesHTML(t *testing.T) {
	dir := t.TempDir()
	w, _ := OpenIndex(dir)
	if err := w.Append(result("a", core.RecordingCompleted)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, HTMLFile)); err != nil {
		t.Errorf("gallery not written: %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "-"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
