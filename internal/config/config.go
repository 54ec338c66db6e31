// Package config provides YAML-based configuration loading for the FDA agents.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// RootEnv overrides the project root directory.
const RootEnv = "FDA_ROOT"

// Config is the top-level configuration, loaded from fda.yaml.
type Config struct {
	Root      string          `yaml:"root"`
	State     StateConfig     `yaml:"state"`
	Bus       BusConfig       `yaml:"bus"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Notify    NotifyConfig    `yaml:"notify"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// StateConfig selects the state store backend.
type StateConfig struct {
	Driver      string        `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path        string        `yaml:"path"`   // sqlite file
	DSN         string        `yaml:"dsn"`    // mysql DSN
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	Path          string        `yaml:"path"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	RetentionDays int           `yaml:"retention_days"`
}

// ScheduleConfig holds the agents' timer settings.
type ScheduleConfig struct {
	DailyCheckin            string        `yaml:"daily_checkin"`
	CalendarIntervalMinutes int           `yaml:"calendar_interval_minutes"`
	CheckIntervalMinutes    int           `yaml:"check_interval_minutes"`
	MeetingPrepLeadMinutes  int           `yaml:"meeting_prep_lead_minutes"`
	MaxConcurrent           int           `yaml:"max_concurrent"`
	MessagePollInterval     time.Duration `yaml:"message_poll_interval"`
}

// ReasoningConfig configures the language-model collaborator.
type ReasoningConfig struct {
	Provider  string `yaml:"provider"` // "anthropic" or "none"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// CalendarConfig configures the Microsoft Graph calendar collaborator.
// An empty TenantID disables calendar access.
type CalendarConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	User            string `yaml:"user"`
}

// NotifyConfig configures the notification sinks.
type NotifyConfig struct {
	Command string        `yaml:"command"`
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig names a chat channel and the env var holding its bot token.
type ChannelConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	Channel     string `yaml:"channel"`
}

// DashboardConfig holds the status API settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	return cfg, err
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoot returns $FDA_ROOT, or ~/.fda.
func DefaultRoot() string {
	if env := os.Getenv(RootEnv); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fda"
	}
	return filepath.Join(home, ".fda")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot()
	}
	if c.State.Driver == "" {
		c.State.Driver = "sqlite"
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join(c.Root, "state.db")
	}
	if c.State.BusyTimeout == 0 {
		c.State.BusyTimeout = 5 * time.Second
	}
	if c.Bus.Path == "" {
		c.Bus.Path = filepath.Join(c.Root, "message_bus.json")
	}
	if c.Bus.LockTimeout == 0 {
		c.Bus.LockTimeout = 10 * time.Second
	}
	if c.Bus.RetentionDays == 0 {
		c.Bus.RetentionDays = 30
	}
	if c.Schedule.DailyCheckin == "" {
		c.Schedule.DailyCheckin = "09:00"
	}
	if c.Schedule.CalendarIntervalMinutes == 0 {
		c.Schedule.CalendarIntervalMinutes = 5
	}
	if c.Schedule.CheckIntervalMinutes == 0 {
		c.Schedule.CheckIntervalMinutes = 15
	}
	if c.Schedule.MeetingPrepLeadMinutes == 0 {
		c.Schedule.MeetingPrepLeadMinutes = 30
	}
	if c.Schedule.MaxConcurrent == 0 {
		c.Schedule.MaxConcurrent = 4
	}
	if c.Schedule.MessagePollInterval == 0 {
		c.Schedule.MessagePollInterval = 2 * time.Second
	}
	if c.Reasoning.Provider == "" {
		c.Reasoning.Provider = "anthropic"
	}
	if c.Reasoning.Model == "" {
		c.Reasoning.Model = "claude-3-5-haiku-20241022"
	}
	if c.Reasoning.APIKeyEnv == "" {
		c.Reasoning.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.Reasoning.MaxTokens == 0 {
		c.Reasoning.MaxTokens = 4096
	}
	if c.Calendar.ClientSecretEnv == "" {
		c.Calendar.ClientSecretEnv = "FDA_CALENDAR_CLIENT_SECRET"
	}
	if c.Notify.Slack.BotTokenEnv == "" {
		c.Notify.Slack.BotTokenEnv = "SLACK_BOT_TOKEN"
	}
	if c.Notify.Discord.BotTokenEnv == "" {
		c.Notify.Discord.BotTokenEnv = "DISCORD_BOT_TOKEN"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

var timeOfDay = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.State.Driver {
	case "sqlite":
	case "mysql":
		if c.State.DSN == "" {
			errs = append(errs, "state.dsn is required for the mysql driver")
		} else if _, err := mysql.ParseDSN(c.State.DSN); err != nil {
			errs = append(errs, fmt.Sprintf("state.dsn is invalid: %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("state.driver %q is not one of sqlite, mysql", c.State.Driver))
	}
	if !timeOfDay.MatchString(c.Schedule.DailyCheckin) {
		errs = append(errs, fmt.Sprintf("schedule.daily_checkin %q must be HH:MM", c.Schedule.DailyCheckin))
	}
	if c.Schedule.CalendarIntervalMinutes < 0 {
		errs = append(errs, "schedule.calendar_interval_minutes must be positive")
	}
	if c.Schedule.CheckIntervalMinutes < 0 {
		errs = append(errs, "schedule.check_interval_minutes must be positive")
	}
	if c.Schedule.MaxConcurrent < 0 {
		errs = append(errs, "schedule.max_concurrent must be positive")
	}
	if c.Bus.LockTimeout < 0 {
		errs = append(errs, "bus.lock_timeout must be positive")
	}
	if c.Bus.RetentionDays < 0 {
		errs = append(errs, "bus.retention_days must be positive")
	}
	switch c.Reasoning.Provider {
	case "anthropic", "none":
	default:
		errs = append(errs, fmt.Sprintf("reasoning.provider %q is not one of anthropic, none", c.Reasoning.Provider))
	}
	if c.Calendar.TenantID != "" && c.Calendar.ClientID == "" {
		errs = append(errs, "calendar.client_id is required when calendar.tenant_id is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
