package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tgarc/tgarc/internal/archive"
)

// Source drivers.
const (
	DriverExport   = "export"
	DriverTelegram = "telegram"
)

// Config represents an archive's config.toml.
type Config struct {
	Group string `toml:"group"`

	Source Source `toml:"source"`
	Fetch  Fetch  `toml:"fetch"`
	Media  Media  `toml:"media"`
	Site   Site   `toml:"site"`
}

// Source selects and configures the message source.
type Source struct {
	Driver  string `toml:"driver"`
	Path    string `toml:"path"`
	APIID   string `toml:"api_id"`
	APIHash string `toml:"api_hash"`
}

// Fetch controls the sync loop.
type Fetch struct {
	BatchSize int  `toml:"batch_size"`
	Limit     int  `toml:"limit"`
	Wait      int  `toml:"wait"`
	Takeout   bool `toml:"takeout"`
}

// WaitBetweenPages returns the configured pacing delay.
func (f Fetch) WaitBetweenPages() time.Duration {
	return time.Duration(f.Wait) * time.Second
}

// Media controls downloading of attachments and avatars.
type Media struct {
	Download   bool     `toml:"download"`
	Dir        string   `toml:"dir"`
	Avatars    bool     `toml:"avatars"`
	AvatarSize int      `toml:"avatar_size"`
	MimeTypes  []string `toml:"mime_types"`
	MaxSize    int64    `toml:"max_size"`
}

// Site controls the generated static site.
type Site struct {
	URL                string `toml:"url"`
	Name               string `toml:"name"`
	Description        string `toml:"description"`
	MetaDescription    string `toml:"meta_description"`
	PageTitle          string `toml:"page_title"`
	PublishDir         string `toml:"publish_dir"`
	StaticDir          string `toml:"static_dir"`
	Template           string `toml:"template"`
	PerPage            int    `toml:"per_page"`
	ShowSenderFullname bool   `toml:"show_sender_fullname"`
	Timezone           string `toml:"timezone"`
	TelegramURL        string `toml:"telegram_url"`
	RSS                bool   `toml:"rss"`
	RSSEntries         int    `toml:"rss_entries"`
}

// Default returns a Config with the stock defaults.
func Default() *Config {
	return &Config{
		Source: Source{
			Driver: DriverExport,
			Path:   "export",
		},
		Fetch: Fetch{
			BatchSize: 2000,
			Limit:     0,
			Wait:      5,
		},
		Media: Media{
			Download:   false,
			Dir:        "media",
			Avatars:    true,
			AvatarSize: 64,
		},
		Site: Site{
			URL:             "https://mysite.com",
			Name:            "@{group} (Telegram) archive",
			Description:     "Public archive of @{group} Telegram messages.",
			MetaDescription: "@{group} {date} Telegram message archive.",
			PageTitle:       "{date} - @{group} Telegram message archive.",
			PublishDir:      "site",
			StaticDir:       "static",
			Template:        "template.html",
			PerPage:         1000,
			TelegramURL:     "https://t.me/{id}",
			RSS:             true,
			RSSEntries:      100,
		},
	}
}

// Load reads config from the given path, applying defaults for absent keys
// and API_ID/API_HASH environment fallbacks for credentials.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Source.APIID == "" {
		cfg.Source.APIID = os.Getenv("API_ID")
	}
	if cfg.Source.APIHash == "" {
		cfg.Source.APIHash = os.Getenv("API_HASH")
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file may hold API credentials, so it is written 0600.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks bounds and path safety. Credentials are required only when
// requireCredentials is set (a sync against the live service).
func (c *Config) Validate(requireCredentials bool) error {
	switch c.Source.Driver {
	case DriverExport:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for the %s driver", DriverExport)
		}
	case DriverTelegram:
		if requireCredentials {
			if c.Source.APIID == "" {
				return fmt.Errorf("source.api_id is required: set it in config.toml or the API_ID environment variable")
			}
			if c.Source.APIHash == "" {
				return fmt.Errorf("source.api_hash is required: set it in config.toml or the API_HASH environment variable")
			}
			if c.Group == "" {
				return fmt.Errorf("group name or id is required in config.toml")
			}
		}
	default:
		return fmt.Errorf("unknown source.driver %q", c.Source.Driver)
	}

	for _, p := range []struct{ label, value string }{
		{"media.dir", c.Media.Dir},
		{"site.publish_dir", c.Site.PublishDir},
		{"site.static_dir", c.Site.StaticDir},
	} {
		if err := archive.CheckSubdir(p.label, p.value); err != nil {
			return err
		}
	}

	if c.Fetch.Wait < 0 {
		return fmt.Errorf("fetch.wait must be non-negative, got %d", c.Fetch.Wait)
	}
	if c.Fetch.BatchSize < 1 {
		return fmt.Errorf("fetch.batch_size must be a positive integer, got %d", c.Fetch.BatchSize)
	}
	if c.Fetch.Limit < 0 {
		return fmt.Errorf("fetch.limit must be non-negative, got %d", c.Fetch.Limit)
	}
	if c.Site.PerPage < 1 {
		return fmt.Errorf("site.per_page must be a positive integer, got %d", c.Site.PerPage)
	}
	if c.Site.RSS && c.Site.RSSEntries < 1 {
		return fmt.Errorf("site.rss_entries must be a positive integer, got %d", c.Site.RSSEntries)
	}
	if c.Media.MaxSize < 0 {
		return fmt.Errorf("media.max_size must be non-negative, got %d", c.Media.MaxSize)
	}
	if c.Media.AvatarSize < 1 {
		return fmt.Errorf("media.avatar_size must be a positive integer, got %d", c.Media.AvatarSize)
	}
	return nil
}
