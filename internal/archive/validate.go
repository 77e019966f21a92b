package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CheckSubdir validates a configured directory name that must stay inside
// the archive directory. Absolute paths and parent traversal are rejected.
func CheckSubdir(label, value string) error {
	if value == "" {
		return fmt.Errorf("%s: empty path", label)
	}
	if filepath.IsAbs(value) {
		return fmt.Errorf("%s: absolute path %q not allowed", label, value)
	}
	for _, part := range strings.Split(filepath.ToSlash(value), "/") {
		if part == ".." {
			return fmt.Errorf("%s: path %q escapes the archive directory", label, value)
		}
	}
	return nil
}
