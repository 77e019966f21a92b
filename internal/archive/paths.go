package archive

import (
	"os"
	"path/filepath"
)

// ConfigPath returns the config.toml path inside an archive directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// DBPath returns the SQLite database path for an archive.
func DBPath(dir string) string {
	return filepath.Join(dir, "data.sqlite")
}

// SessionPath returns the client credential file path for an archive.
func SessionPath(dir string) string {
	return filepath.Join(dir, "session")
}

// LockPath returns the lock file path for an archive.
func LockPath(dir string) string {
	return filepath.Join(dir, "LOCK")
}

// LogDir returns the log directory for an archive.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogPath returns the run log file path.
func LogPath(dir string) string {
	return filepath.Join(LogDir(dir), "tgarc.log")
}

// EnsureDirs creates the archive directory tree with proper permissions.
// The archive root is world-readable so generated sites can be served
// directly; logs stay private.
func EnsureDirs(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(LogDir(dir), 0700)
}

// SecureSessionFile tightens permissions on the credential file if it
// exists. Missing files are fine: the remote client creates it on first
// login.
func SecureSessionFile(dir string) error {
	path := SessionPath(dir)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Chmod(path, 0600)
}
