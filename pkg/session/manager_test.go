package session

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/driver/mock"
)

func TestAcquireRelease(t *testing.T) {
	launcher := &mock.Launcher{}
	m := NewManager(launcher, core.LaunchOptions{Width: 1280, Height: 720, Headless: true})

	d, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !m.Status().SessionOpen {
		t.Error("SessionOpen = false after Acquire")
	}

	opts := launcher.Options()[0]
	if opts.Width != 1280 || opts.Height != 720 || !opts.Headless {
		t.Errorf("launch options = %+v", opts)
	}
	if opts.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want default", opts.UserAgent)
	}

	if _, err := m.Acquire(context.Background()); !errors.Is(err, core.ErrSessionBusy) {
		t.Errorf("second Acquire() error = %v, want ErrSessionBusy", err)
	}

	if err := m.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if closed, _ := d.(*mock.Driver).Closed(); !closed {
		t.Error("driver not closed on Release")
	}
	if m.Status().SessionOpen {
		t.Error("SessionOpen = true after Release")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewManager(&mock.Launcher{Config: mock.Config{CloseError: errors.New("already gone")}}, core.LaunchOptions{})

	if err := m.Release(); err != nil {
		t.Errorf("Release() without session = %v", err)
	}
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(); err != nil {
		t.Errorf("Release() with close error = %v, want nil", err)
	}
	if err := m.Release(); err != nil {
		t.Errorf("second Release() = %v", err)
	}
}

func TestAcquireLaunchFailure(t *testing.T) {
	cause := errors.New("chrome binary not found")
	m := NewManager(&mock.Launcher{Err: cause}, core.LaunchOptions{})

	_, err := m.Acquire(context.Background())
	if !errors.Is(err, core.ErrSessionUnavailable) {
		t.Fatalf("error = %v, want ErrSessionUnavailable", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved")
	}
	if m.Status().SessionOpen {
		t.Error("failed launch left a session open")
	}
}

func TestReleaseStopsCapture(t *testing.T) {
	m := NewManager(&mock.Launcher{}, core.LaunchOptions{})
	d, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	md := d.(*mock.Driver)
	if err := md.StartScreencast(context.Background(), core.ScreencastOptions{Format: "jpeg"}, func(core.Frame) {}); err != nil {
		t.Fatal(err)
	}
	m.MarkRecording("rec-1")

	st := m.Status()
	if !st.Recording || st.RecordingID != "rec-1" {
		t.Errorf("Status() = %+v", st)
	}

	m.Release()
	if md.Screencasting() {
		t.Error("screencast still active after Release")
	}
	if m.Status().Recording {
		t.Error("recording marker not cleared")
	}
	if !m.Interrupted("rec-1") {
		t.Error("Interrupted(rec-1) = false after Release during recording")
	}
}

func TestInterrupted(t *testing.T) {
	m := NewManager(&mock.Launcher{}, core.LaunchOptions{})
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A recording that finished before Release was not interrupted.
	m.MarkRecording("rec-1")
	m.ClearRecording()
	m.Release()
	if m.Interrupted("rec-1") {
		t.Error("Interrupted(rec-1) = true for a cleared recording")
	}

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.MarkRecording("rec-2")
	m.Release()
	if !m.Interrupted("rec-2") {
		t.Error("Interrupted(rec-2) = false")
	}
	if m.Interrupted("") || m.Interrupted("rec-3") {
		t.Error("Interrupted reported for an unrelated id")
	}

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.MarkRecording("rec-3")
	if m.Interrupted("rec-2") {
		t.Error("stale interruption survived a new recording")
	}
}
