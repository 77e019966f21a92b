package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgarc/tgarc/internal/archive"
	"github.com/tgarc/tgarc/internal/build"
	"github.com/tgarc/tgarc/internal/bus"
	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/lock"
	"github.com/tgarc/tgarc/internal/logging"
	"github.com/tgarc/tgarc/internal/media"
	"github.com/tgarc/tgarc/internal/scaffold"
	"github.com/tgarc/tgarc/internal/store"
	intsync "github.com/tgarc/tgarc/internal/sync"
	"github.com/tgarc/tgarc/internal/telegram"
)

// --- shared wiring ---

func loadConfig(dir string, requireCredentials bool) (*config.Config, error) {
	cfg, err := config.Load(archive.ConfigPath(dir))
	if err != nil {
		return nil, fmt.Errorf("load config: %w (run 'tgarc new' to initialize an archive)", err)
	}
	if err := cfg.Validate(requireCredentials); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRunLogger(dir string) (*zap.Logger, error) {
	if err := archive.EnsureDirs(dir); err != nil {
		return nil, err
	}
	return logging.New(archive.LogPath(dir), uuid.NewString()[:8])
}

func openStore(dir string) (*store.DB, error) {
	db, err := store.Open(archive.DBPath(dir))
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// watchProgress prints sync and build events until the returned stop
// function runs.
func watchProgress(b *bus.Bus) func() {
	ch, unsub := b.Subscribe("", 64)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt bus.Event
			select {
			case evt = <-ch:
			case <-quit:
				return
			}
			switch p := evt.Payload.(type) {
			case bus.PageProgress:
				printStep("page committed: %d messages (through id %d, %d total)", p.Saved, p.LastID, p.Total)
			case bus.RateLimit:
				printWarning("rate limited, waiting %s", p.Wait)
			case bus.PageWritten:
				printStep("wrote %s (%d messages)", p.File, p.Messages)
			}
		}
	}()
	return func() {
		unsub()
		close(quit)
		<-done
	}
}

// --- new ---

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Initialize a new archive directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := archiveDir()
		if err := archive.EnsureDirs(dir); err != nil {
			return err
		}
		if err := config.Save(archive.ConfigPath(dir), config.Default()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		if err := scaffold.Create(dir); err != nil {
			return err
		}
		printSuccess("initialized archive in %s", dir)
		printStatus("next", "edit %s, then run 'tgarc sync'", archive.ConfigPath(dir))
		return nil
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new messages into the archive",
	Long: `Fetch messages newer than the stored cursor into the local
database, downloading media and avatars as configured. Safe to interrupt
and re-run: progress is committed page by page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromID, _ := cmd.Flags().GetInt64("from-id")
		ids, _ := cmd.Flags().GetInt64Slice("ids")
		limit, _ := cmd.Flags().GetInt("limit")
		if fromID > 0 && len(ids) > 0 {
			return fmt.Errorf("pass either --from-id or --ids, not both")
		}

		dir := archiveDir()
		cfg, err := loadConfig(dir, true)
		if err != nil {
			return err
		}

		lk, err := lock.Acquire(dir)
		if err != nil {
			return err
		}
		defer func() { _ = lk.Release() }()

		if err := archive.SecureSessionFile(dir); err != nil {
			return err
		}

		logger, err := newRunLogger(dir)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		db, err := openStore(dir)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		client, err := telegram.OpenSource(cfg.Source.Driver, sourcePath(dir, cfg.Source.Path), logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		b := bus.New()
		stop := watchProgress(b)
		defer stop()

		mgr := media.NewManager(filepath.Join(dir, cfg.Media.Dir), cfg.Media, client, b, logger)
		engine := intsync.NewEngine(db, client, mgr, b, cfg, logger)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		res, err := engine.Run(ctx, intsync.Options{FromID: fromID, IDs: ids, Limit: limit})
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		printSuccess("synced %d messages in %d pages (cursor at %d)", res.Messages, res.Pages, res.LastID)
		if res.Skipped > 0 {
			printWarning("%d malformed records skipped", res.Skipped)
		}
		return nil
	},
}

// --- build ---

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Generate the static site from the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		symlink, _ := cmd.Flags().GetBool("symlink")

		dir := archiveDir()
		cfg, err := loadConfig(dir, false)
		if err != nil {
			return err
		}

		lk, err := lock.Acquire(dir)
		if err != nil {
			return err
		}
		defer func() { _ = lk.Release() }()

		logger, err := newRunLogger(dir)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		db, err := openStore(dir)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		b := bus.New()
		stop := watchProgress(b)
		defer stop()

		builder, err := build.NewBuilder(db, cfg, dir, b, logger)
		if err != nil {
			return err
		}
		res, err := builder.Build(build.Options{Symlink: symlink})
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}
		printSuccess("published %d pages over %d months to %s",
			res.Pages, res.Months, filepath.Join(dir, cfg.Site.PublishDir))
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over archived messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openStore(archiveDir())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		results, err := db.SearchMessages(args[0], limit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if len(results) == 0 {
			printWarning("no matches")
			return nil
		}
		for _, r := range results {
			who := ""
			if r.Message.User != nil {
				who = r.Message.User.Username
			}
			when := time.Unix(r.Message.Date, 0).Format("2006-01-02 15:04")
			fmt.Printf("#%d  %s  %s\n    %s\n", r.Message.ID, when, who, r.Snippet)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive counts and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := archiveDir()
		db, err := openStore(dir)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		messages, err := db.MessageCount()
		if err != nil {
			return err
		}
		users, err := db.UserCount()
		if err != nil {
			return err
		}
		mediaCount, err := db.MediaCount()
		if err != nil {
			return err
		}

		printStatus("archive", "%s", dir)
		printStatus("messages", "%d", messages)
		printStatus("users", "%d", users)
		printStatus("media", "%d", mediaCount)

		if first, last, ok, err := db.MessageSpan(); err != nil {
			return err
		} else if ok {
			printStatus("span", "%s to %s",
				time.Unix(first, 0).Format("2006-01-02"),
				time.Unix(last, 0).Format("2006-01-02"))
		}

		if id, ok, err := db.LastMessageID(); err != nil {
			return err
		} else if ok {
			printStatus("cursor", "%d", id)
		} else {
			printStatus("cursor", "none (never synced)")
		}

		if at, ok, err := db.LastSyncAt(); err != nil {
			return err
		} else if ok {
			printStatus("last sync", "%s", at.Local().Format(time.RFC3339))
		}
		return nil
	},
}

func sourcePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func init() {
	syncCmd.Flags().Int64("from-id", 0, "re-sync from this message id instead of the stored cursor")
	syncCmd.Flags().Int64Slice("ids", nil, "sync only these message ids (cursor untouched)")
	syncCmd.Flags().Int("limit", 0, "maximum messages to fetch this run")

	buildCmd.Flags().Bool("symlink", false, "symlink media and static directories instead of copying")

	searchCmd.Flags().Int("limit", 50, "maximum results")
}
