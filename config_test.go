package sharelink

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sharelink.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
oidc:
  issuer: https://issuer.example.com
  clientID: sharelink
  clientSecret: shh
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != "localhost:5555" {
		t.Errorf("want default listen address, got %q", cfg.Listen)
	}
	if cfg.BaseURL != "http://localhost:5555" {
		t.Errorf("want base URL derived from listen address, got %q", cfg.BaseURL)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("want default memory driver, got %q", cfg.Database.Driver)
	}
	if cfg.SecureCookies == nil || !*cfg.SecureCookies {
		t.Error("want secure cookies by default")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		config string
	}{
		{
			name: "missing issuer",
			config: `
oidc:
  clientID: sharelink
  clientSecret: shh
`,
		},
		{
			name: "unknown driver",
			config: `
database:
  driver: cassandra
oidc:
  issuer: https://issuer.example.com
  clientID: sharelink
  clientSecret: shh
`,
		},
		{
			name: "postgres without url",
			config: `
database:
  driver: postgres
oidc:
  issuer: https://issuer.example.com
  clientID: sharelink
  clientSecret: shh
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.config)); err == nil {
				t.Error("want validation error, got none")
			}
		})
	}
}

func TestLoadConfigBoltDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  driver: bolt
oidc:
  issuer: https://issuer.example.com
  clientID: sharelink
  clientSecret: shh
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path == "" {
		t.Error("want default bolt path")
	}
}
