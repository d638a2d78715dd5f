package sharelink

import (
	"context"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sharelink/sharelink/oidc"
	"github.com/sharelink/sharelink/storage"
)

// Authenticator guards routes and mounts the auth endpoints. It is satisfied
// by *oidc.Handler.
type Authenticator interface {
	AddRoutes(r *mux.Router)
	Wrap(next http.Handler) http.Handler
}

// App is the HTTP surface of the service: the link/shortcut API, the public
// shortcut redirect, and the auth endpoints of its Authenticator.
type App struct {
	logger  logrus.FieldLogger
	storage storage.Storage
	auth    Authenticator

	router *mux.Router
}

func NewApp(logger logrus.FieldLogger, st storage.Storage, auth Authenticator, registry *prometheus.Registry, allowedOrigins []string) (*App, error) {
	a := &App{
		logger:  logger,
		storage: st,
		auth:    auth,
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	if err := registry.Register(requestCounter); err != nil {
		return nil, errors.Wrap(err, "failed to register Prometheus HTTP metrics")
	}

	instrument := func(handlerName string, handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	protected := func(handlerName string, h http.HandlerFunc) http.Handler {
		var handler http.Handler = a.auth.Wrap(h)
		if len(allowedOrigins) > 0 {
			handler = handlers.CORS(handlers.AllowedOrigins(allowedOrigins))(handler)
		}
		return instrument(handlerName, handler)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	a.auth.AddRoutes(r)

	r.Handle("/user/profile", protected("profile", a.handleProfile)).Methods(http.MethodGet)
	r.Handle("/api/links", protected("links_list", a.handleListLinks)).Methods(http.MethodGet)
	r.Handle("/api/links", protected("links_create", a.handleCreateLink)).Methods(http.MethodPost)
	r.Handle("/api/links/{id}", protected("links_get", a.handleGetLink)).Methods(http.MethodGet)
	r.Handle("/api/links/{id}", protected("links_delete", a.handleDeleteLink)).Methods(http.MethodDelete)

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/user/profile", http.StatusSeeOther)
	}).Methods(http.MethodGet)
	r.Handle("/{shortcut}", instrument("shortcut", http.HandlerFunc(a.handleShortcut))).Methods(http.MethodGet)

	a.router = r
	return a, nil
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// UpsertUserFromClaims returns a hook for the auth layer that provisions a
// user record from the verified claims on every successful login.
func UpsertUserFromClaims(st storage.Storage) oidc.AuthenticatedFunc {
	return func(ctx context.Context, claims oidc.Claims) error {
		_, err := st.UpsertUser(ctx, storage.User{
			Subject: claims.Subject,
			Name:    claims.Name,
			Email:   claims.Email,
		})
		return errors.Wrap(err, "failed to upsert user")
	}
}
