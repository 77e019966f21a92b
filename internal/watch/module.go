// Package watch runs sync and build on a fixed interval, so a single
// long-lived process can keep an archive and its site current.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tgarc/tgarc/internal/archive"
	"github.com/tgarc/tgarc/internal/build"
	"github.com/tgarc/tgarc/internal/bus"
	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/lock"
	"github.com/tgarc/tgarc/internal/logging"
	"github.com/tgarc/tgarc/internal/media"
	"github.com/tgarc/tgarc/internal/store"
	intsync "github.com/tgarc/tgarc/internal/sync"
	"github.com/tgarc/tgarc/internal/telegram"
)

// Params holds the resolved invocation settings passed to the fx module.
type Params struct {
	Dir      string
	Interval time.Duration
	Symlink  bool
}

// Module composes the watch-mode providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("watch",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideMediaManager,
			provideEngine,
			provideBuilder,
		),
		fx.Invoke(registerLoop),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(archive.ConfigPath(p.Dir))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(cfg.Source.Driver == config.DriverTelegram); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := archive.EnsureDirs(p.Dir); err != nil {
		return nil, err
	}
	return logging.New(archive.LogPath(p.Dir), uuid.NewString()[:8])
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring archive lock", zap.String("dir", p.Dir))
	l, err := lock.Acquire(p.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("archive lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(archive.DBPath(p.Dir))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideClient(p Params, cfg *config.Config, logger *zap.Logger) (telegram.Client, error) {
	if err := archive.SecureSessionFile(p.Dir); err != nil {
		return nil, err
	}
	return telegram.OpenSource(cfg.Source.Driver, sourcePath(p.Dir, cfg.Source.Path), logger)
}

func provideMediaManager(p Params, cfg *config.Config, client telegram.Client, b *bus.Bus, logger *zap.Logger) *media.Manager {
	return media.NewManager(filepath.Join(p.Dir, cfg.Media.Dir), cfg.Media, client, b, logger)
}

func provideEngine(db *store.DB, client telegram.Client, mgr *media.Manager, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, mgr, b, cfg, logger)
}

func provideBuilder(p Params, db *store.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*build.Builder, error) {
	return build.NewBuilder(db, cfg, p.Dir, b, logger)
}

func registerLoop(lc fx.Lifecycle, shutdowner fx.Shutdowner, p Params, engine *intsync.Engine, builder *build.Builder, client telegram.Client, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	cycle := func() error {
		if _, err := engine.Run(ctx, intsync.Options{}); err != nil {
			return err
		}
		_, err := builder.Build(build.Options{Symlink: p.Symlink})
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(p.Interval)
				defer ticker.Stop()

				for {
					if err := cycle(); err != nil {
						if ctx.Err() != nil {
							return
						}
						logger.Error("watch cycle failed", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
						return
					}
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			_ = client.Close()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("watch stopped")
			return nil
		},
	})
}

func sourcePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
