package config

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv overrides the home directory.
const HomeEnv = "SCREENCAST_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory that holds recordings and the default flow
// store. It is $SCREENCAST_RUNNER_HOME when set, the install prefix when the
// binary lives in <prefix>/bin, and the working directory otherwise. The
// result is computed once.
func GetHome() string {
	homeOnce.Do(func() { homeDir = resolveHome() })
	return homeDir
}

// GetRecordingsDir is the default output directory.
func GetRecordingsDir() string {
	return filepath.Join(GetHome(), "recordings")
}

// GetFlowsFile is the default location of the file flow store.
func GetFlowsFile() string {
	return filepath.Join(GetHome(), "flows.json")
}

func resolveHome() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	if exe, err := os.Executable(); err == nil {
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		if bin := filepath.Dir(exe); filepath.Base(bin) == "bin" {
			return filepath.Dir(bin)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResetHome forgets the cached home directory. Tests only.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
