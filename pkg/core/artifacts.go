// Package core provides the recording model types for screencast-runner.
package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Attachment represents an artifact captured during step execution
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot
	ContentType string `json:"contentType"` // MIME type: image/png
	Path        string `json:"path"`        // File path on disk
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentVideo      = "video"
	AttachmentGif        = "gif"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
	ContentTypeGIF  = "image/gif"
	ContentTypeWebM = "video/webm"
	ContentTypeJSON = "application/json"
)

// NewScreenshotAttachment creates a screenshot attachment
func NewScreenshotAttachment(path string, data []byte) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypePNG,
		Path:        path,
		Body:        data,
	}
}

// ArtifactPaths are the files a single recording produces.
type ArtifactPaths struct {
	Video         string `json:"video"`
	Gif           string `json:"gif"`
	ScreenshotDir string `json:"screenshotDir"`
}

// TimestampLayout is the timestamp embedded in artifact names.
const TimestampLayout = "20060102_150405"

// NewArtifactPaths derives the artifact paths for a recording of name
// started at t: <dir>/<slug>_<yyyymmdd_hhmmss>_<ms>.{webm,gif}.
func NewArtifactPaths(dir, name string, t time.Time) ArtifactPaths {
	base := fmt.Sprintf("%s_%s_%03d", Slug(name), t.Format(TimestampLayout), t.Nanosecond()/int(time.Millisecond))
	return ArtifactPaths{
		Video:         filepath.Join(dir, base+".webm"),
		Gif:           filepath.Join(dir, base+".gif"),
		ScreenshotDir: filepath.Join(dir, base+"_screenshots"),
	}
}

// ScreenshotPath returns the file path for a named screenshot.
func (p ArtifactPaths) ScreenshotPath(name string) string {
	name = strings.TrimSuffix(name, ".png")
	return filepath.Join(p.ScreenshotDir, Slug(name)+".png")
}

// Slug lowercases name and collapses every run of characters other than
// letters and digits into a single underscore.
func Slug(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "screencast"
	}
	return b.String()
}
