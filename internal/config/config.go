// Package config is the pocketsaas configuration: the core sections plus
// storage, intake, funnel and campaign settings.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	coreconfig "github.com/m3rciful/pocketsaas/core/config"
	coredatabase "github.com/m3rciful/pocketsaas/core/database"
)

const (
	DefaultPostbackListen = ":8000"
	DefaultPostbackBase   = "http://localhost:8000"
	DefaultLang           = "ru"
	DefaultAssetsDir      = "assets"
	DefaultMiniAppURL     = "https://jeempocket.github.io/mini-app/"
	DefaultTimezone       = "Europe/Moscow"
	DefaultSendIntervalMS = 50
	DefaultSessionIdleMin = 30
	DefaultPollSeconds    = 5
	DefaultWelcomeTTLHrs  = 24 * 30
)

// RedisConfig enables the shared "welcome shown" store. An empty Addr keeps
// the markers in memory.
type RedisConfig struct {
	Addr            string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password        string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB              int    `yaml:"db" envconfig:"REDIS_DB"`
	WelcomeTTLHours int    `yaml:"welcome_ttl_hours" envconfig:"REDIS_WELCOME_TTL_HOURS"`
}

// PostbackConfig configures the conversion intake server.
type PostbackConfig struct {
	Listen  string `yaml:"listen" envconfig:"POSTBACK_LISTEN"`
	BaseURL string `yaml:"base_url" envconfig:"POSTBACK_BASE"`
}

// ParentConfig configures the onboarding bot.
type ParentConfig struct {
	PrivateChannelID int64   `yaml:"private_channel_id" envconfig:"PRIVATE_CHANNEL_ID"`
	GAAdminIDs       []int64 `yaml:"ga_admin_ids" envconfig:"GA_ADMIN_IDS"`
}

// FunnelConfig holds the funnel defaults shared by every child bot.
type FunnelConfig struct {
	DefaultLang       string `yaml:"default_lang" envconfig:"LANG_DEFAULT"`
	DefaultSupportURL string `yaml:"default_support_url" envconfig:"DEFAULT_SUPPORT_URL"`
	MiniAppURL        string `yaml:"miniapp_url" envconfig:"MINIAPP_URL"`
	AssetsDir         string `yaml:"assets_dir" envconfig:"ASSETS_DIR"`
}

// BroadcastConfig configures campaigns.
type BroadcastConfig struct {
	Timezone           string `yaml:"timezone" envconfig:"BROADCAST_TZ"`
	SendIntervalMS     int    `yaml:"send_interval_ms" envconfig:"BROADCAST_SEND_INTERVAL_MS"`
	SessionIdleMinutes int    `yaml:"session_idle_minutes" envconfig:"BROADCAST_SESSION_IDLE_MINUTES"`

	location *time.Location
}

// SupervisorConfig configures the child bot supervisor.
type SupervisorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" envconfig:"SUPERVISOR_POLL_SECONDS"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database   coredatabase.Config `yaml:"database"`
	Redis      RedisConfig         `yaml:"redis"`
	Postback   PostbackConfig      `yaml:"postback"`
	Parent     ParentConfig        `yaml:"parent"`
	Funnel     FunnelConfig        `yaml:"funnel"`
	Broadcast  BroadcastConfig     `yaml:"broadcast"`
	Supervisor SupervisorConfig    `yaml:"supervisor"`
}

// CoreConfig implements cmd.ConfigCarrier.
func (c *Config) CoreConfig() *coreconfig.Config { return &c.Config }

// Load reads path and the environment, then validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates cfg and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if cfg.Database.URL == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.url (DATABASE_URL) or database.host (DB_HOST) is required")
	}
	if cfg.Database.Host != "" && cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}

	if cfg.Redis.WelcomeTTLHours < 0 {
		return fmt.Errorf("redis.welcome_ttl_hours must be >= 0")
	}
	if cfg.Redis.WelcomeTTLHours == 0 {
		cfg.Redis.WelcomeTTLHours = DefaultWelcomeTTLHrs
	}

	cfg.Postback.Listen = strings.TrimSpace(cfg.Postback.Listen)
	if cfg.Postback.Listen == "" {
		cfg.Postback.Listen = DefaultPostbackListen
	}
	cfg.Postback.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Postback.BaseURL), "/")
	if cfg.Postback.BaseURL == "" {
		cfg.Postback.BaseURL = DefaultPostbackBase
	}

	for _, id := range cfg.Parent.GAAdminIDs {
		if id <= 0 {
			return fmt.Errorf("parent.ga_admin_ids: invalid user id %d", id)
		}
	}

	cfg.Funnel.DefaultLang = strings.ToLower(strings.TrimSpace(cfg.Funnel.DefaultLang))
	if cfg.Funnel.DefaultLang == "" {
		cfg.Funnel.DefaultLang = DefaultLang
	}
	if cfg.Funnel.AssetsDir == "" {
		cfg.Funnel.AssetsDir = DefaultAssetsDir
	}
	cfg.Funnel.MiniAppURL = strings.TrimSpace(cfg.Funnel.MiniAppURL)
	if cfg.Funnel.MiniAppURL == "" {
		cfg.Funnel.MiniAppURL = DefaultMiniAppURL
	}
	if u, err := url.Parse(cfg.Funnel.MiniAppURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("funnel.miniapp_url %q: want an https URL", cfg.Funnel.MiniAppURL)
	}

	if strings.TrimSpace(cfg.Broadcast.Timezone) == "" {
		cfg.Broadcast.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(cfg.Broadcast.Timezone)
	if err != nil {
		return fmt.Errorf("broadcast.timezone: %w", err)
	}
	cfg.Broadcast.location = loc
	switch {
	case cfg.Broadcast.SendIntervalMS < 0:
		return fmt.Errorf("broadcast.send_interval_ms must be >= 0")
	case cfg.Broadcast.SendIntervalMS == 0:
		cfg.Broadcast.SendIntervalMS = DefaultSendIntervalMS
	}
	switch {
	case cfg.Broadcast.SessionIdleMinutes < 0:
		return fmt.Errorf("broadcast.session_idle_minutes must be >= 0")
	case cfg.Broadcast.SessionIdleMinutes == 0:
		cfg.Broadcast.SessionIdleMinutes = DefaultSessionIdleMin
	}

	switch {
	case cfg.Supervisor.PollIntervalSeconds < 0:
		return fmt.Errorf("supervisor.poll_interval_seconds must be >= 0")
	case cfg.Supervisor.PollIntervalSeconds == 0:
		cfg.Supervisor.PollIntervalSeconds = DefaultPollSeconds
	}
	return nil
}

// WelcomeTTL is how long a "welcome shown" marker lives in redis.
func (c RedisConfig) WelcomeTTL() time.Duration {
	return time.Duration(c.WelcomeTTLHours) * time.Hour
}

// Location is the campaign time zone; UTC before Normalize ran.
func (c BroadcastConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c BroadcastConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}

func (c BroadcastConfig) IdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c SupervisorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
