package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sharelink/sharelink"
	"github.com/sharelink/sharelink/oidc"
	"github.com/sharelink/sharelink/storage"
	boltstorage "github.com/sharelink/sharelink/storage/bolt"
	memorystorage "github.com/sharelink/sharelink/storage/memory"
	sqlstorage "github.com/sharelink/sharelink/storage/sql"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:  "sharelink",
	RunE: run,
}

var configPath string // flag

func init() {
	cmd.Flags().StringVar(&configPath, "config", "sharelink.yaml", "Path to the config file")
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	ctx := context.Background()

	cfg, err := sharelink.LoadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Error("failed to close storage")
		}
	}()

	key, err := oidc.LoadOrGenerateKey(cfg.CookieKeyFile)
	if err != nil {
		return errors.Wrap(err, "failed to load cookie key")
	}
	codec, err := oidc.NewCodec(key, *cfg.SecureCookies)
	if err != nil {
		return errors.Wrap(err, "failed to create cookie codec")
	}

	provider, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		Issuer:       cfg.OIDC.Issuer,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  strings.TrimSuffix(cfg.BaseURL, "/") + "/auth/callback",
		Scopes:       cfg.OIDC.Scopes,
	}, oidc.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if err != nil {
		return errors.Wrap(err, "failed to discover OIDC provider")
	}

	auth, err := oidc.NewHandler(logger, provider, codec, cfg.BaseURL,
		oidc.WithAuthenticatedFunc(sharelink.UpsertUserFromClaims(st)))
	if err != nil {
		return errors.Wrap(err, "failed to create auth handler")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	app, err := sharelink.NewApp(logger, st, auth, registry, cfg.AllowedOrigins)
	if err != nil {
		return errors.Wrap(err, "failed to create app")
	}

	logger.WithField("addr", cfg.Listen).Info("starting server")
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: app,
	}
	return srv.ListenAndServe()
}

func openStorage(ctx context.Context, cfg sharelink.DatabaseConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "memory":
		return memorystorage.New(), nil
	case "bolt":
		s, err := boltstorage.New(cfg.Path, 0600)
		return s, errors.Wrapf(err, "failed to open bolt database %s", cfg.Path)
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open postgres connection")
		}
		s, err := sqlstorage.New(ctx, db)
		return s, errors.Wrap(err, "failed to initialize postgres storage")
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
