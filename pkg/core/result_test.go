package core

import (
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

func TestBounds_Center(t *testing.T) {
	tests := []struct {
		bounds    Bounds
		expectedX int
		expectedY int
	}{
		{Bounds{X: 0, Y: 0, Width: 100, Height: 100}, 50, 50},
		{Bounds{X: 10, Y: 20, Width: 100, Height: 200}, 60, 120},
		{Bounds{X: 0, Y: 0, Width: 0, Height: 0}, 0, 0},
	}

	for _, tt := range tests {
		x, y := tt.bounds.Center()
		if x != tt.expectedX || y != tt.expectedY {
			t.Errorf("Bounds%+v.Center() = (%d, %d), want (%d, %d)",
				tt.bounds, x, y, tt.expectedX, tt.expectedY)
		}
	}
}

func TestBounds_Contains(t *testing.T) {
	bounds := Bounds{X: 10, Y: 10, Width: 100, Height: 100}

	if !bounds.Contains(50, 50) || !bounds.Contains(10, 10) {
		t.Error("Contains() should include interior and top-left")
	}
	if bounds.Contains(110, 110) || bounds.Contains(0, 0) {
		t.Error("Contains() should exclude boundary and outside points")
	}
}

func newTestSession() *RecordingSession {
	f := &flow.Flow{ID: "t1", Name: "Login demo"}
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	paths := NewArtifactPaths("/out", f.Name, start)
	return NewRecordingSession("rec-1", f, paths, start)
}

func TestRecordingSession_Complete(t *testing.T) {
	s := newTestSession()
	if s.Status != RecordingInProgress || s.Phase != PhaseInitializing {
		t.Fatalf("new session = %s/%s, want recording/initializing", s.Status, s.Phase)
	}

	s.AddStep(StepResult{Index: 0, Status: StatusPassed})
	s.AddStep(StepResult{Index: 1, Status: StatusSkipped})
	s.AddStep(StepResult{Index: 2, Status: StatusPassed, Attachments: []Attachment{
		NewScreenshotAttachment("/out/shots/final.png", nil),
	}})
	s.Complete(s.StartTime.Add(5 * time.Second))

	r := s.Result()
	if r.Status != RecordingCompleted {
		t.Errorf("Status = %s, want completed", r.Status)
	}
	if r.StepsExecuted != 2 || r.StepsSkipped != 1 {
		t.Errorf("executed/skipped = %d/%d, want 2/1", r.StepsExecuted, r.StepsSkipped)
	}
	if len(r.Screenshots) != 1 || r.Screenshots[0] != "/out/shots/final.png" {
		t.Errorf("Screenshots = %v", r.Screenshots)
	}
	if r.GifPath == "" || r.VideoPath == "" {
		t.Error("completed result should expose artifact paths")
	}
	if got := s.Duration(time.Now()); got != 5*time.Second {
		t.Errorf("Duration() = %v, want 5s", got)
	}
}

func TestRecordingSession_Fail(t *testing.T) {
	s := newTestSession()
	s.Fail(&StepFailure{Index: 0, Action: flow.ActionClick, Selector: "#a", Err: errors.New("not found")}, s.StartTime)

	r := s.Result()
	if r.Status != RecordingFailed {
		t.Errorf("Status = %s, want failed", r.Status)
	}
	if s.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want failed", s.Phase)
	}
	if r.Error == "" || r.ErrorCategory != "step" {
		t.Errorf("Error = %q, ErrorCategory = %q", r.Error, r.ErrorCategory)
	}
	if r.GifPath != "" || r.VideoPath != "" {
		t.Error("failed result should not expose artifact paths")
	}
	if r.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestNewArtifactPaths(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 5, 7, 42*int(time.Millisecond), time.UTC)
	p := NewArtifactPaths("/out", "Login Demo!", ts)

	if p.Video != "/out/login_demo_20240301_090507_042.webm" {
		t.Errorf("Video = %q", p.Video)
	}
	if p.Gif != "/out/login_demo_20240301_090507_042.gif" {
		t.Errorf("Gif = %q", p.Gif)
	}
	if got := p.ScreenshotPath("Final State"); got != "/out/login_demo_20240301_090507_042_screenshots/final_state.png" {
		t.Errorf("ScreenshotPath() = %q", got)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Login demo", "login_demo"},
		{"  --Checkout / Flow--  ", "checkout_flow"},
		{"t1", "t1"},
		{"!!!", "screencast"},
		{"", "screencast"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
