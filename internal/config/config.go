// Package config provides YAML-based configuration loading for toxbot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level toxbot configuration, loaded from toxbot.yaml.
// Secrets may be supplied through the environment (or a .env file) instead
// of the YAML file.
type Config struct {
	Platform      string           `yaml:"platform" env:"TOXBOT_PLATFORM"`
	CommandPrefix string           `yaml:"command_prefix"`
	Discord       DiscordConfig    `yaml:"discord"`
	Slack         SlackConfig      `yaml:"slack"`
	Database      DatabaseConfig   `yaml:"database"`
	Bridge        BridgeConfig     `yaml:"bridge"`
	Sentiment     SentimentConfig  `yaml:"sentiment"`
	Classifier    ClassifierConfig `yaml:"classifier"`
	API           APIConfig        `yaml:"api"`
	Log           LogConfig        `yaml:"log"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOXBOT_DISCORD_TOKEN"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"TOXBOT_SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"TOXBOT_SLACK_APP_TOKEN"`
}

// DatabaseConfig selects the SQL backend. Driver is "mysql" or "sqlite".
// DSN, when set, takes precedence over the host/port fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"TOXBOT_DATABASE_DRIVER"`
	DSN      string `yaml:"dsn" env:"TOXBOT_DATABASE_DSN"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"TOXBOT_DATABASE_PASSWORD"`
	Name     string `yaml:"name"`
}

// BridgeConfig controls the feedback bridge between users and admins.
type BridgeConfig struct {
	Admins        []string `yaml:"admins" env:"TOXBOT_ADMINS" envSeparator:","`
	Retention     Duration `yaml:"retention"`
	SweepInterval Duration `yaml:"sweep_interval"`
	SendTimeout   Duration `yaml:"send_timeout"`
	Workers       int      `yaml:"workers"`
	QueueSize     int      `yaml:"queue_size"`
}

// SentimentConfig controls message classification and the batch jobs over
// classified rows.
type SentimentConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Retention     Duration `yaml:"retention"`
	SummarizeCron string   `yaml:"summarize_cron"`
	PurgeCron     string   `yaml:"purge_cron"`
}

// ClassifierConfig points at an OpenAI-compatible chat completions endpoint.
type ClassifierConfig struct {
	BaseURL      string   `yaml:"base_url" env:"TOXBOT_CLASSIFIER_BASE_URL"`
	APIKey       string   `yaml:"api_key" env:"TOXBOT_CLASSIFIER_API_KEY"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Timeout      Duration `yaml:"timeout"`
}

// APIConfig controls the HTTP service API.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"TOXBOT_LOG_LEVEL"`
	Format string `yaml:"format" env:"TOXBOT_LOG_FORMAT"`
}

// Duration is a time.Duration that also accepts a day suffix ("7d").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ParseDuration parses Go duration syntax plus whole days ("7d").
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return Duration(time.Duration(n) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by env parsing).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Load reads a YAML config file from path, overlays environment variables
// (after loading .env from the working directory if present) and returns a
// validated Config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, true)
}

// Parse unmarshals YAML bytes into a validated Config. The environment is
// not consulted.
func Parse(data []byte) (*Config, error) {
	return parse(data, false)
}

func parse(data []byte, withEnv bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if withEnv {
		if err := env.Parse(&cfg); err != nil {
			return nil, fmt.Errorf("config: environment: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!tox"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "toxbot"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "toxbot.db"
	}

	if c.Bridge.Retention == 0 {
		c.Bridge.Retention = Duration(7 * 24 * time.Hour)
	}
	if c.Bridge.SweepInterval == 0 {
		c.Bridge.SweepInterval = Duration(time.Hour)
	}
	if c.Bridge.SendTimeout == 0 {
		c.Bridge.SendTimeout = Duration(10 * time.Second)
	}
	if c.Bridge.Workers == 0 {
		c.Bridge.Workers = 4
	}
	if c.Bridge.QueueSize == 0 {
		c.Bridge.QueueSize = 256
	}

	if c.Sentiment.Retention == 0 {
		c.Sentiment.Retention = Duration(30 * 24 * time.Hour)
	}
	if c.Sentiment.SummarizeCron == "" {
		c.Sentiment.SummarizeCron = "*/5 * * * *"
	}
	if c.Sentiment.PurgeCron == "" {
		c.Sentiment.PurgeCron = "0 3 * * *"
	}

	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = Duration(30 * time.Second)
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Platform {
	case "discord":
		if c.Discord.Token == "" {
			errs = append(errs, "discord.token is required")
		}
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	case "":
		errs = append(errs, "platform is required")
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (discord, slack)", c.Platform))
	}

	if !slices.Contains([]string{"mysql", "sqlite"}, c.Database.Driver) {
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}

	if len(c.Bridge.Admins) == 0 {
		errs = append(errs, "bridge.admins must list at least one admin")
	}
	for i, a := range c.Bridge.Admins {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Sprintf("bridge.admins[%d] is empty", i))
		}
	}
	if c.Bridge.Retention <= 0 {
		errs = append(errs, "bridge.retention must be positive")
	}
	if c.Bridge.SweepInterval <= 0 {
		errs = append(errs, "bridge.sweep_interval must be positive")
	} else if c.Bridge.SweepInterval >= c.Bridge.Retention {
		errs = append(errs, "bridge.sweep_interval must be shorter than bridge.retention")
	}
	if c.Bridge.Workers < 0 {
		errs = append(errs, "bridge.workers must not be negative")
	}
	if c.Bridge.QueueSize < 0 {
		errs = append(errs, "bridge.queue_size must not be negative")
	}

	if c.Sentiment.Enabled {
		if c.Classifier.BaseURL == "" {
			errs = append(errs, "classifier.base_url is required when sentiment is enabled")
		}
		if c.Classifier.Model == "" {
			errs = append(errs, "classifier.model is required when sentiment is enabled")
		}
	}
	for name, expr := range map[string]string{
		"sentiment.summarize_cron": c.Sentiment.SummarizeCron,
		"sentiment.purge_cron":     c.Sentiment.PurgeCron,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsAdmin reports whether userID is in the configured admin list.
func (c *Config) IsAdmin(userID string) bool {
	return slices.Contains(c.Bridge.Admins, userID)
}
