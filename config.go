package sharelink

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

type DatabaseConfig struct {
	// Driver selects the storage backend: "memory", "bolt" or "postgres".
	Driver string `json:"driver"`

	// Path is the bolt database file. Only used with the bolt driver.
	Path string `json:"path"`

	// URL is the postgres connection URL. Only used with the postgres driver.
	URL string `json:"url"`
}

type OIDCConfig struct {
	Issuer       string   `json:"issuer"`
	ClientID     string   `json:"clientID"`
	ClientSecret string   `json:"clientSecret"`
	Scopes       []string `json:"scopes"`
}

type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `json:"listen"`

	// BaseURL is the externally-reachable URL of this service. The OIDC
	// redirect URL is derived from it.
	BaseURL string `json:"baseURL"`

	// CookieKeyFile is the path to the session cookie master key. A key is
	// generated there on first run if the file does not exist.
	CookieKeyFile string `json:"cookieKeyFile"`

	// SecureCookies marks session cookies https-only. Disable for local
	// development only.
	SecureCookies *bool `json:"secureCookies"`

	// AllowedOrigins enables CORS on the API for the given origins.
	AllowedOrigins []string `json:"allowedOrigins"`

	Database DatabaseConfig `json:"database"`
	OIDC     OIDCConfig     `json:"oidc"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}

	c.withDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// withDefaults sets the default values on the Config if needed
func (c *Config) withDefaults() {
	if c.Listen == "" {
		c.Listen = "localhost:5555"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.Listen
	}
	if c.CookieKeyFile == "" {
		c.CookieKeyFile = "sharelink.key"
	}
	if c.SecureCookies == nil {
		t := true
		c.SecureCookies = &t
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.Driver == "bolt" && c.Database.Path == "" {
		c.Database.Path = "sharelink.db"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "bolt":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required with the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.OIDC.Issuer == "" {
		return fmt.Errorf("oidc.issuer is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.clientID is required")
	}
	if c.OIDC.ClientSecret == "" {
		return fmt.Errorf("oidc.clientSecret is required")
	}

	return nil
}
