// Package session owns the browser resource behind a recorder: launching
// it, handing it to one recording at a time, and releasing it.
package session

import (
	"context"
	"sync"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Manager holds at most one live browser session.
type Manager struct {
	launcher core.Launcher
	opts     core.LaunchOptions

	mu          sync.Mutex
	driver      core.Driver
	recordingID string
	interrupted string // recording cut short by Release
}

// NewManager creates a Manager that launches sessions with opts.
func NewManager(launcher core.Launcher, opts core.LaunchOptions) *Manager {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Manager{launcher: launcher, opts: opts}
}

// Acquire launches a new session. It fails with core.ErrSessionBusy while
// a session is held, and with core.ErrSessionUnavailable when the launch
// fails.
func (m *Manager) Acquire(ctx context.Context) (core.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver != nil {
		return nil, core.ErrSessionBusy
	}

	logger.Info("Launching browser (headless=%v, viewport=%dx%d)", m.opts.Headless, m.opts.Width, m.opts.Height)
	d, err := m.launcher.Launch(ctx, m.opts)
	if err != nil {
		return nil, core.ErrSessionUnavailable.WithCause(err)
	}
	m.driver = d
	return d, nil
}

// Driver returns the held session, or nil.
func (m *Manager) Driver() core.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver
}

// Release closes the held session. It stops an active screencast first,
// and is a no-op when nothing is held. Close errors are logged, not
// returned.
func (m *Manager) Release() error {
	m.mu.Lock()
	d := m.driver
	recording := m.recordingID
	if d != nil && recording != "" {
		m.interrupted = recording
	}
	m.driver = nil
	m.recordingID = ""
	m.mu.Unlock()

	if d == nil {
		return nil
	}

	if recording != "" {
		logger.Warn("Releasing session while recording %s is active, stopping capture", recording)
		if err := d.StopScreencast(context.Background()); err != nil {
			logger.Warn("Failed to stop screencast: %v", err)
		}
	}
	if err := d.Close(); err != nil {
		logger.Warn("Failed to close browser session: %v", err)
	}
	return nil
}

// MarkRecording records that id is using the session.
func (m *Manager) MarkRecording(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordingID = id
	if m.interrupted != id {
		m.interrupted = ""
	}
}

// Interrupted reports whether the session was released while recording id
// was marked on it.
func (m *Manager) Interrupted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return id != "" && m.interrupted == id
}

// ClearRecording clears the active recording marker.
func (m *Manager) ClearRecording() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordingID = ""
}

// Status reports the current session state.
func (m *Manager) Status() core.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.SessionStatus{
		SessionOpen: m.driver != nil,
		Recording:   m.recordingID != "",
		RecordingID: m.recordingID,
	}
}
