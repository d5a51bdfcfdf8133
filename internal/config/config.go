// Package config loads the bot's service configuration from YAML.
// Secrets may reference environment variables with ${VAR} syntax so the
// file itself can be committed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen  string        `yaml:"listen"`
	GitHub  GitHubConfig  `yaml:"github"`
	Jira    JiraConfig    `yaml:"jira"`
	Bot     BotConfig     `yaml:"bot"`
	People  PeopleConfig  `yaml:"people"`
	Workers WorkersConfig `yaml:"workers"`
}

type GitHubConfig struct {
	// Token is a personal access token. Ignored when App auth is set.
	Token string `yaml:"token"`
	// WebhookSecret is the shared secret for delivery signatures.
	WebhookSecret string `yaml:"webhook_secret"`
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string `yaml:"base_url"`

	App GitHubAppConfig `yaml:"app"`
}

type GitHubAppConfig struct {
	ClientID       string `yaml:"client_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Enabled reports whether App auth is configured.
func (a GitHubAppConfig) Enabled() bool {
	return a.ClientID != "" && a.PrivateKeyPath != ""
}

type JiraConfig struct {
	BaseURL string `yaml:"base_url"`
	Email   string `yaml:"email"`
	Token   string `yaml:"token"`

	// ExtraFields are the custom field names the bot manages on tickets
	// beyond the built-in ones.
	ExtraFields []string `yaml:"extra_fields"`
}

type BotConfig struct {
	// DefaultProject receives community contribution tickets.
	DefaultProject string `yaml:"default_project"`
	// BlendedProject receives sponsored-project tickets.
	BlendedProject string `yaml:"blended_project"`
	// CLAStatusContext names the commit status that reports agreement
	// coverage when the contributor registry has no answer.
	CLAStatusContext string `yaml:"cla_status_context"`
}

type PeopleConfig struct {
	// URL of the directory hosting people.yaml and orgs.yaml. Mutually
	// exclusive with Dir.
	URL string `yaml:"url"`
	// Dir is a local directory with the same files, mostly for
	// development.
	Dir string `yaml:"dir"`
	// CacheTTL bounds how stale the cached registry may get.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type WorkersConfig struct {
	// Max bounds concurrent reconciliations.
	Max int `yaml:"max"`
}

// Load reads and parses a config file at the given path. Environment
// references in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8787"
	}
	if c.Bot.DefaultProject == "" {
		c.Bot.DefaultProject = "OSPR"
	}
	if c.Bot.BlendedProject == "" {
		c.Bot.BlendedProject = "BLENDED"
	}
	if c.Workers.Max <= 0 {
		c.Workers.Max = 4
	}
	if c.People.CacheTTL <= 0 {
		c.People.CacheTTL = 15 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.GitHub.Token == "" && !c.GitHub.App.Enabled() {
		return fmt.Errorf("missing required field: github.token or github.app")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("missing required field: github.webhook_secret")
	}
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("missing required field: jira.base_url")
	}
	if c.Jira.Email == "" || c.Jira.Token == "" {
		return fmt.Errorf("missing required fields: jira.email and jira.token")
	}
	if c.People.URL == "" && c.People.Dir == "" {
		return fmt.Errorf("missing required field: people.url or people.dir")
	}
	if c.People.URL != "" && c.People.Dir != "" {
		return fmt.Errorf("people.url and people.dir are mutually exclusive")
	}
	return nil
}
