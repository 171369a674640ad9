// Package paths resolves on-disk locations: where the daemon keeps its own
// per-workspace state, and where the IDE keeps the workspace-storage SQLite
// file this daemon reads from.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
)

// GlobalDir returns the root directory for all daemon state (~/.ricochet,
// kept from the teacher's convention).
func GlobalDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ricochet")
}

// WorkspaceHash returns a short, stable hash of the absolute workspace root.
// Kept from the teacher's internal/paths/paths.go almost verbatim, and used
// the same way: to name this daemon's own per-workspace state directory. The
// IDE's storage directory is not derived from it; internal/convstore.Locate
// finds that one by reading each candidate's workspace.json.
func WorkspaceHash(workspaceRoot string) string {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		abs = workspaceRoot
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8])
}

// StateDir returns the directory the Mapping Registry and per-workspace
// config persist into for a given workspace root.
func StateDir(workspaceRoot string) string {
	return filepath.Join(GlobalDir(), "state", WorkspaceHash(workspaceRoot))
}

// EnsureDir creates path and all parents if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// IDEStorageBase returns the platform-specific base directory under which
// the IDE keeps one subdirectory per workspace (workspaceStorage/<hash>/).
func IDEStorageBase(appName string) string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName, "User", "workspaceStorage")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName, "User", "workspaceStorage")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName, "User", "workspaceStorage")
	}
}
