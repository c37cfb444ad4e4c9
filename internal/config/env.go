// Package config provides configuration loading and validation for the
// federation core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinSessionSecretLength mirrors the ambient JWT-secret-strength check:
// HS256 needs at least 256 bits (32 bytes) for adequate security.
const MinSessionSecretLength = 32

// OwnerCard holds the owner h-card fields (SPEC_FULL.md section 6). Name
// and Email are returned by userinfo and by the token endpoint's profile.
type OwnerCard struct {
	Name              string
	Email             string
	PhotoDescription  string
	Note              string
	Language          string
	SiteName          string
	SiteDescription   string
}

// Config holds all configuration values the federation core consumes,
// per SPEC_FULL.md sections 6 and 10.
type Config struct {
	Environment string // development | staging | production
	ServerName  string // this site's canonical origin, e.g. https://example.com
	DatabaseURL string
	MediaDir    string
	PageSize    int
	RequireVouch bool

	Owner OwnerCard

	// OwnerPasswordHash gates the IndieAuth consent page (supplemental
	// Owner Credential, section 3).
	OwnerPasswordHash string
	// SessionSecret signs the owner login cookie.
	SessionSecret string

	// TrustedDomainSeed is an initial Trusted Domain list from config.yaml,
	// inserted once at startup by main().
	TrustedDomainSeed []string

	Port string
}

// Load reads configuration from environment variables, applying defaults
// for optional keys and collecting every missing required key into one
// aggregated error so an operator sees all misconfiguration in one run.
func Load() (*Config, error) {
	cfg := &Config{}
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.ServerName = os.Getenv("SERVER_NAME")
	if cfg.ServerName == "" {
		missing = append(missing, "SERVER_NAME")
	}

	cfg.OwnerPasswordHash = os.Getenv("OWNER_PASSWORD_HASH")
	if cfg.OwnerPasswordHash == "" {
		missing = append(missing, "OWNER_PASSWORD_HASH")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d characters (got %d) for adequate security", MinSessionSecretLength, len(cfg.SessionSecret))
	}

	cfg.Environment = getEnvOrDefault("ENVIRONMENT", "development")
	cfg.MediaDir = getEnvOrDefault("MEDIA", "./media")
	cfg.PageSize = getEnvOrDefaultInt("PAGE_SIZE", 20)
	cfg.RequireVouch = getEnvOrDefaultBool("REQUIRE_VOUCH", false)
	cfg.Port = getEnvOrDefault("PORT", "8080")

	cfg.Owner = OwnerCard{
		Name:             os.Getenv("OWNER_NAME"),
		Email:            os.Getenv("OWNER_EMAIL"),
		PhotoDescription: os.Getenv("OWNER_PHOTO_DESCRIPTION"),
		Note:             os.Getenv("OWNER_NOTE"),
		Language:         getEnvOrDefault("OWNER_LANGUAGE", "en"),
		SiteName:         os.Getenv("SITE_NAME"),
		SiteDescription:  os.Getenv("SITE_DESCRIPTION"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAMLSeed(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// yamlSeed is the optional config.yaml shape (section 10): it seeds the
// owner h-card and an initial Trusted Domain list for a fresh deployment.
// Environment variables always take precedence when both are present.
type yamlSeed struct {
	Owner struct {
		Name             string `yaml:"name"`
		Email            string `yaml:"email"`
		PhotoDescription string `yaml:"photo_description"`
		Note             string `yaml:"note"`
		Language         string `yaml:"language"`
	} `yaml:"owner"`
	SiteName        string   `yaml:"site_name"`
	SiteDescription string   `yaml:"site_description"`
	TrustedDomains  []string `yaml:"trusted_domains"`
}

func (c *Config) loadYAMLSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var seed yamlSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if c.Owner.Name == "" {
		c.Owner.Name = seed.Owner.Name
	}
	if c.Owner.Email == "" {
		c.Owner.Email = seed.Owner.Email
	}
	if c.Owner.PhotoDescription == "" {
		c.Owner.PhotoDescription = seed.Owner.PhotoDescription
	}
	if c.Owner.Note == "" {
		c.Owner.Note = seed.Owner.Note
	}
	if os.Getenv("OWNER_LANGUAGE") == "" && seed.Owner.Language != "" {
		c.Owner.Language = seed.Owner.Language
	}
	if c.Owner.SiteName == "" {
		c.Owner.SiteName = seed.SiteName
	}
	if c.Owner.SiteDescription == "" {
		c.Owner.SiteDescription = seed.SiteDescription
	}
	c.TrustedDomainSeed = seed.TrustedDomains
	return nil
}

// IsDevelopment reports whether outgoing webmentions are disabled per
// section 4.4.2 ("Disabled entirely when environment = development").
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// FeedURL is this site's feed URL, the WebSub topic scope prefix (section
// 4.5: "a topic URL is accepted iff it begins with this site's feed URL").
func (c *Config) FeedURL() string {
	return strings.TrimRight(c.ServerName, "/") + "/feed"
}

// HubURL is this site's own WebSub hub endpoint, advertised via the
// `Link: rel="hub"` response header and the publish delivery's Link header.
func (c *Config) HubURL() string {
	return strings.TrimRight(c.ServerName, "/") + "/websub"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
