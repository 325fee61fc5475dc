// Package config holds the settings every bot in the process shares:
// Telegram transport, logging and the per-user rate limit.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateCallback = "callback"
	UpdateMessage  = "message"
)

// TelegramConfig holds settings of the parent bot. Tenant bots always long
// poll and reuse the timeout.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"PARENT_BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// 0 selects the default timeout.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig is only read in webhook run mode.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// Secret is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	Secret string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Stacks      string `yaml:"stacks"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	ErrorsFile  string `yaml:"errors_file"`
	// Profile is "debug" or "prod"; it picks the default format.
	Profile string `yaml:"profile"`
}

// RateLimitConfig throttles each user to one update per interval. Update
// kinds listed in ExcludeUpdates bypass the limit.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Interval is zero when rate limiting is off.
func (c RateLimitConfig) Interval() time.Duration {
	return time.Duration(max(c.IntervalMS, 0)) * time.Millisecond
}

// Excluded returns ExcludeUpdates as a set.
func (c RateLimitConfig) Excluded() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ExcludeUpdates))
	for _, kind := range c.ExcludeUpdates {
		set[kind] = struct{}{}
	}
	return set
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads the YAML file at path, overlays the environment and
// normalizes the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode fills out from the YAML file at path, then overlays environment
// variables. A missing file leaves out to the environment alone.
func Decode(path string, out any) error {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", out); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}

// Normalize fills defaults and reports every invalid field at once.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	tgErr := cfg.Telegram.normalize()
	return errors.Join(tgErr, cfg.Webhook.validate(cfg.Telegram.RunMode), cfg.RateLimit.normalize())
}

func (c *TelegramConfig) normalize() error {
	var errs []error
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("telegram.token (PARENT_BOT_TOKEN) is required"))
	}
	switch mode := strings.ToLower(strings.TrimSpace(c.RunMode)); mode {
	case "", "polling", RunModeLongpoll:
		c.RunMode = RunModeLongpoll
	case RunModeWebhook:
		c.RunMode = mode
	default:
		errs = append(errs, fmt.Errorf("telegram.run_mode %q: want webhook or longpoll", c.RunMode))
	}
	if c.LongPollTimeoutSeconds < 0 {
		errs = append(errs, errors.New("telegram.longpoll_timeout_seconds must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c *WebhookConfig) validate(mode string) error {
	if mode != RunModeWebhook {
		return nil
	}
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("webhook.url is required in webhook mode"))
	}
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("webhook.listen is required in webhook mode"))
	}
	if c.Port <= 0 {
		errs = append(errs, errors.New("webhook.port must be > 0 in webhook mode"))
	}
	return errors.Join(errs...)
}

func (c *RateLimitConfig) normalize() error {
	kinds := make([]string, 0, len(c.ExcludeUpdates))
	for _, v := range c.ExcludeUpdates {
		kind := strings.ToLower(strings.TrimSpace(v))
		switch kind {
		case "":
			continue
		case UpdateCallback, UpdateMessage:
			if !slices.Contains(kinds, kind) {
				kinds = append(kinds, kind)
			}
		default:
			return fmt.Errorf("rate_limit.exclude_updates %q: want callback or message", v)
		}
	}
	c.ExcludeUpdates = kinds
	return nil
}
