// Package config loads the application configuration from a YAML file with
// environment-variable overrides for deployment and secrets.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/statuspulse/statuspulse/core/jira"
)

// Default values applied when neither file nor environment sets a field.
const (
	DefaultDaysBack         = 14
	DefaultOutputDir        = "./reports"
	DefaultStoryPointsField = "customfield_10016"
	DefaultServerHost       = "0.0.0.0"
	DefaultServerPort       = 8080
	DefaultScheduleHour     = 9
)

// Jira holds connection and credential settings.
type Jira struct {
	BaseURL          string       `yaml:"base_url"`
	Username         string       `yaml:"username"`
	APIToken         string       `yaml:"api_token"`
	PersonalToken    string       `yaml:"personal_token"`
	StoryPointsField string       `yaml:"story_points_field"`
	OAuth            *OAuthConfig `yaml:"oauth,omitempty"`
}

// OAuthConfig mirrors jira.OAuthConfig in YAML form.
type OAuthConfig struct {
	ConsumerKey       string `yaml:"consumer_key"`
	ConsumerSecret    string `yaml:"consumer_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Schedule configures the periodic report run. Hour is a pointer so an
// explicit midnight (hour: 0) is distinguishable from an absent field.
type Schedule struct {
	Enabled   bool   `yaml:"enabled"`
	DayOfWeek string `yaml:"day_of_week"`
	Hour      *int   `yaml:"hour"`
	Minute    int    `yaml:"minute"`
	Biweekly  bool   `yaml:"biweekly"`
}

// HourOrDefault returns the configured hour, defaulting to 9.
func (s Schedule) HourOrDefault() int {
	if s.Hour == nil {
		return DefaultScheduleHour
	}
	return *s.Hour
}

// Server configures the HTTP API.
type Server struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	RequestTimeout int      `yaml:"request_timeout_seconds"`
}

// Config is the root configuration document.
type Config struct {
	Jira          Jira                `yaml:"jira"`
	Projects      []string            `yaml:"projects"`
	DaysBack      int                 `yaml:"days_back"`
	OutputDir     string              `yaml:"output_dir"`
	StatusBuckets map[string][]string `yaml:"status_buckets,omitempty"`
	Schedule      Schedule            `yaml:"schedule"`
	Server        Server              `yaml:"server"`
}

// Credential converts the configured secrets into the probe input.
func (c *Config) Credential() jira.Credential {
	cred := jira.Credential{
		Username:      c.Jira.Username,
		APIToken:      c.Jira.APIToken,
		PersonalToken: c.Jira.PersonalToken,
	}
	if o := c.Jira.OAuth; o != nil {
		cred.OAuth = &jira.OAuthConfig{
			ConsumerKey:       o.ConsumerKey,
			ConsumerSecret:    o.ConsumerSecret,
			AccessToken:       o.AccessToken,
			AccessTokenSecret: o.AccessTokenSecret,
		}
	}
	return cred
}

// Load reads the file at path (optional), applies environment overrides, and
// fills in defaults. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		slog.Debug("Loaded config file", "path", path)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Jira.BaseURL = envOrDefault("STATUSPULSE_JIRA_URL", c.Jira.BaseURL)
	c.Jira.Username = envOrDefault("STATUSPULSE_JIRA_USERNAME", c.Jira.Username)
	c.Jira.APIToken = envOrDefault("STATUSPULSE_JIRA_API_TOKEN", c.Jira.APIToken)
	c.Jira.PersonalToken = envOrDefault("STATUSPULSE_JIRA_PERSONAL_TOKEN", c.Jira.PersonalToken)
	c.Jira.StoryPointsField = envOrDefault("STATUSPULSE_STORY_POINTS_FIELD", c.Jira.StoryPointsField)
	c.OutputDir = envOrDefault("STATUSPULSE_OUTPUT_DIR", c.OutputDir)

	if v := os.Getenv("STATUSPULSE_PROJECTS"); v != "" {
		c.Projects = parseCSV(v)
	}
	if v := os.Getenv("STATUSPULSE_DAYS_BACK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DaysBack = n
		} else {
			slog.Warn("Ignoring non-numeric STATUSPULSE_DAYS_BACK", "value", v)
		}
	}
	if v := os.Getenv("STATUSPULSE_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		} else {
			slog.Warn("Ignoring non-numeric STATUSPULSE_SERVER_PORT", "value", v)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.DaysBack == 0 {
		c.DaysBack = DefaultDaysBack
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Jira.StoryPointsField == "" {
		c.Jira.StoryPointsField = DefaultStoryPointsField
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Schedule.DayOfWeek == "" {
		c.Schedule.DayOfWeek = "Friday"
	}
}

// Validate checks the fields a report run depends on.
func (c *Config) Validate() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if c.Credential().Empty() {
		return fmt.Errorf("no Jira credential configured: set a personal token, username/api_token pair, or oauth block")
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one project key is required")
	}
	if c.DaysBack < 0 {
		return fmt.Errorf("days_back must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Redacted returns a copy safe to expose over the API: secrets are masked,
// presence is preserved.
func (c *Config) Redacted() Config {
	out := *c
	out.Jira.APIToken = mask(c.Jira.APIToken)
	out.Jira.PersonalToken = mask(c.Jira.PersonalToken)
	if c.Jira.OAuth != nil {
		o := *c.Jira.OAuth
		o.ConsumerSecret = mask(o.ConsumerSecret)
		o.AccessToken = mask(o.AccessToken)
		o.AccessTokenSecret = mask(o.AccessTokenSecret)
		out.Jira.OAuth = &o
	}
	return out
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
