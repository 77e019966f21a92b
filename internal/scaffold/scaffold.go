// Package scaffold seeds new archive directories with the bundled
// starter template and static assets.
package scaffold

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"embed"
)

//go:embed seed
var seedFS embed.FS

// TemplateHTML returns the bundled page template. The builder falls back
// to it when an archive carries no template of its own.
func TemplateHTML() []byte {
	b, err := fs.ReadFile(seedFS, "seed/template.html")
	if err != nil {
		// The template is embedded at compile time; a missing file is a
		// packaging bug.
		panic(err)
	}
	return b
}

// Create writes the starter files into dir. Existing files are never
// overwritten: scaffolding an already-initialized archive fails.
func Create(dir string) error {
	return fs.WalkDir(seedFS, "seed", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("seed", path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, rel)

		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists", dest)
		}
		data, err := fs.ReadFile(seedFS, path)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0644)
	})
}
