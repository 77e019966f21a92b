// Package media downloads attachments and avatars into an archive's
// media directory. Files are named from the remote numeric id, so
// repeated syncs find existing copies instead of downloading again.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tgarc/tgarc/internal/bus"
	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/telegram"
)

// ErrSkipped marks items excluded by the configured size or type
// filters. Callers treat it as a normal outcome, not a failure.
var ErrSkipped = errors.New("media: skipped by filter")

// Source provides attachment and avatar content. The telegram.Client
// satisfies it.
type Source interface {
	OpenMedia(ctx context.Context, f *telegram.File) (io.ReadCloser, error)
	OpenThumb(ctx context.Context, f *telegram.File) (io.ReadCloser, error)
	OpenAvatar(ctx context.Context, userID int64, size int) (io.ReadCloser, error)
}

// Local references cached copies inside the media directory. Names are
// relative so rendered pages can link them directly.
type Local struct {
	Name  string
	Thumb string
}

// Manager caches remote files on disk, keyed by remote id.
type Manager struct {
	dir    string
	cfg    config.Media
	source Source
	bus    *bus.Bus
	logger *zap.Logger
}

// NewManager creates a manager writing into dir.
func NewManager(dir string, cfg config.Media, source Source, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, cfg: cfg, source: source, bus: b, logger: logger}
}

// Ensure makes f's content available locally and returns its cached
// reference. A second call for the same remote id finds the existing
// file and performs no download. Filter exclusions return ErrSkipped;
// any other error affects only this item.
func (m *Manager) Ensure(ctx context.Context, f *telegram.File) (Local, error) {
	if f == nil || f.ID == 0 {
		return Local{}, fmt.Errorf("media: no file reference")
	}
	if !m.cfg.Download {
		return Local{}, fmt.Errorf("%w: downloads disabled", ErrSkipped)
	}
	if m.cfg.MaxSize > 0 && f.Size > m.cfg.MaxSize {
		return Local{}, fmt.Errorf("%w: %d bytes exceeds media.max_size", ErrSkipped, f.Size)
	}
	if !m.mimeAllowed(f.MIME) {
		return Local{}, fmt.Errorf("%w: mime type %q not in media.mime_types", ErrSkipped, f.MIME)
	}

	name := fileName(f)
	if err := m.fetch(ctx, name, func(ctx context.Context) (io.ReadCloser, error) {
		return m.source.OpenMedia(ctx, f)
	}); err != nil {
		return Local{}, fmt.Errorf("media %d: %w", f.ID, err)
	}

	local := Local{Name: name}
	if f.HasThumb() {
		thumb := fmt.Sprintf("%d_thumb.jpg", f.ID)
		err := m.fetch(ctx, thumb, func(ctx context.Context) (io.ReadCloser, error) {
			return m.source.OpenThumb(ctx, f)
		})
		switch {
		case err == nil:
			local.Thumb = thumb
		case errors.Is(err, telegram.ErrNoMedia):
		default:
			// The main file is cached; a missing thumbnail only costs
			// the preview.
			m.logger.Warn("thumbnail download failed",
				zap.Int64("media", f.ID), zap.Error(err))
		}
	}

	m.bus.Emit(bus.KindMediaDownloaded, local.Name)
	return local, nil
}

// EnsureAvatar caches a user's profile image, sized per
// media.avatar_size, and returns its name. telegram.ErrNoAvatar passes
// through for users without one.
func (m *Manager) EnsureAvatar(ctx context.Context, userID int64) (string, error) {
	if !m.cfg.Avatars {
		return "", fmt.Errorf("%w: avatars disabled", ErrSkipped)
	}
	name := fmt.Sprintf("avatar_%d.jpg", userID)
	if err := m.fetch(ctx, name, func(ctx context.Context) (io.ReadCloser, error) {
		return m.source.OpenAvatar(ctx, userID, m.cfg.AvatarSize)
	}); err != nil {
		return "", err
	}
	return name, nil
}

// fetch downloads into dir/name unless the file already exists. Content
// streams to a .part temp first, so an interrupted download never leaves
// a half-written file under the final name.
func (m *Manager) fetch(ctx context.Context, name string, open func(context.Context) (io.ReadCloser, error)) error {
	dest := filepath.Join(m.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return err
	}

	src, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp := dest + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	var reader io.Reader = src
	if m.cfg.MaxSize > 0 {
		reader = io.LimitReader(src, m.cfg.MaxSize+1)
	}
	n, err := io.Copy(out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && m.cfg.MaxSize > 0 && n > m.cfg.MaxSize {
		err = fmt.Errorf("%w: content exceeded media.max_size mid-download", ErrSkipped)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func (m *Manager) mimeAllowed(mime string) bool {
	if len(m.cfg.MimeTypes) == 0 {
		return true
	}
	for _, allowed := range m.cfg.MimeTypes {
		if strings.EqualFold(allowed, mime) {
			return true
		}
	}
	return false
}

// fileName derives the cached name from the remote id plus a sanitized
// extension. The upstream filename is untrusted and never contributes
// path structure.
func fileName(f *telegram.File) string {
	ext := sanitizeExt(filepath.Ext(filepath.Base(f.Name)))
	return fmt.Sprintf("%d.%s", f.ID, ext)
}

// sanitizeExt accepts short alphanumeric extensions and maps everything
// else to "bin".
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" || len(ext) > 5 {
		return "bin"
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "bin"
		}
	}
	return ext
}
