package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the heartbeat monitor.
type Config struct {
	DataDirectory     string            `yaml:"data_directory"`
	PostgresDSN       string            `yaml:"postgres_dsn"`
	EvaluateSchedule  string            `yaml:"evaluate_schedule"`
	CooldownMinutes   int               `yaml:"cooldown_minutes"`
	RetentionDays     int               `yaml:"retention_days"`
	AlertHistoryLimit int               `yaml:"alert_history_limit"`
	AlertHistoryDays  int               `yaml:"alert_history_days"`
	AlertSecret       string            `yaml:"alert_secret"`
	APIKeys           map[string]string `yaml:"api_keys"`
	Services          []Service         `yaml:"services"`
	Groups            []Group           `yaml:"groups"`
	Channels          []Channel         `yaml:"channels"`
}

// Service defines a monitored service. Pointer fields distinguish "unset"
// (inherit from group or default) from an explicit false/zero.
type Service struct {
	ID                 string          `yaml:"id"`
	Name               string          `yaml:"name"`
	Enabled            *bool           `yaml:"enabled"`
	StalenessThreshold int             `yaml:"staleness_threshold_seconds"`
	AuthRequired       *bool           `yaml:"auth_required"`
	Notifications      *NotifySettings `yaml:"notifications"`
	UptimeThresholds   string          `yaml:"uptime_thresholds"`
}

// Group supplies defaults for its member services.
type Group struct {
	ID                 string          `yaml:"id"`
	Name               string          `yaml:"name"`
	StalenessThreshold int             `yaml:"staleness_threshold_seconds"`
	AuthRequired       *bool           `yaml:"auth_required"`
	Notifications      *NotifySettings `yaml:"notifications"`
	UptimeThresholds   string          `yaml:"uptime_thresholds"`
	Members            []string        `yaml:"members"`
}

// NotifySettings narrows which alerts a service produces.
type NotifySettings struct {
	Enabled  *bool    `yaml:"enabled"`
	Channels []string `yaml:"channels"`
	Events   []string `yaml:"events"`
}

// Channel configures one outbound notification destination. Credential fields
// are inline fallbacks; an environment secret keyed by channel name wins.
type Channel struct {
	Name           string            `yaml:"name"`
	Type           string            `yaml:"type"`
	Enabled        bool              `yaml:"enabled"`
	Events         []string          `yaml:"events"`
	ExternalAlerts *bool             `yaml:"external_alerts"`
	WebhookURL     string            `yaml:"webhook_url"`
	BotToken       string            `yaml:"bot_token"`
	ChatID         string            `yaml:"chat_id"`
	APIKey         string            `yaml:"api_key"`
	From           string            `yaml:"from"`
	To             []string          `yaml:"to"`
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	AppToken       string            `yaml:"app_token"`
	UserKey        string            `yaml:"user_key"`
	RoutingKey     string            `yaml:"routing_key"`
	Templates      map[string]string `yaml:"templates"`
}

// AcceptsExternal reports whether the channel takes alerts injected by
// external tools. Defaults to true.
func (c Channel) AcceptsExternal() bool {
	return c.ExternalAlerts == nil || *c.ExternalAlerts
}

// APIKeysEnv names the environment variable that overrides the inline
// api_keys map with a JSON object of serviceId -> key.
const APIKeysEnv = "PULSEMON_API_KEYS"

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		DataDirectory:     filepath.Join(".dist", "data"),
		EvaluateSchedule:  "* * * * *",
		CooldownMinutes:   60,
		RetentionDays:     90,
		AlertHistoryLimit: 100,
		AlertHistoryDays:  7,
	}
}

// Load reads configuration from a yaml file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.DataDirectory == "" {
		cfg.DataDirectory = DefaultConfig().DataDirectory
	}
	if cfg.EvaluateSchedule == "" {
		cfg.EvaluateSchedule = DefaultConfig().EvaluateSchedule
	}
	if cfg.CooldownMinutes <= 0 {
		cfg.CooldownMinutes = DefaultConfig().CooldownMinutes
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultConfig().RetentionDays
	}
	if cfg.AlertHistoryLimit <= 0 {
		cfg.AlertHistoryLimit = DefaultConfig().AlertHistoryLimit
	}
	if cfg.AlertHistoryDays <= 0 {
		cfg.AlertHistoryDays = DefaultConfig().AlertHistoryDays
	}

	if raw := os.Getenv(APIKeysEnv); raw != "" {
		keys := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", APIKeysEnv, err)
		}
		cfg.APIKeys = keys
	}

	if len(cfg.Services) == 0 {
		return Config{}, errors.New("configuration must define at least one service")
	}
	seen := make(map[string]bool, len(cfg.Services))
	for i, svc := range cfg.Services {
		if svc.ID == "" {
			return Config{}, fmt.Errorf("service %d is missing id", i)
		}
		if seen[svc.ID] {
			return Config{}, fmt.Errorf("duplicate service id %q", svc.ID)
		}
		seen[svc.ID] = true
	}
	for i, grp := range cfg.Groups {
		if grp.ID == "" {
			return Config{}, fmt.Errorf("group %d is missing id", i)
		}
	}
	for i, ch := range cfg.Channels {
		if ch.Name == "" {
			return Config{}, fmt.Errorf("channel %d is missing name", i)
		}
		if ch.Type == "" {
			return Config{}, fmt.Errorf("channel %s is missing type", ch.Name)
		}
	}
	return cfg, nil
}
