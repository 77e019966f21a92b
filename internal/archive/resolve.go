package archive

import "os"

const DefaultDir = "."

// Resolve determines the archive directory using precedence:
// 1. flagOverride (--dir flag)
// 2. TGARC_DIR environment variable
// 3. current directory
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if dir := os.Getenv("TGARC_DIR"); dir != "" {
		return dir
	}
	return DefaultDir
}
