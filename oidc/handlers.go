package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// AuthenticatedFunc is called after a callback or refresh successfully
// establishes a session, with the merged claims of the authenticated user.
// It can be used to provision application state (e.g. upsert a user record).
type AuthenticatedFunc func(ctx context.Context, claims Claims) error

// Handler owns the login, callback and logout endpoints and the request
// middleware. It holds no mutable per-request state; sessions live entirely
// in the client's cookies.
type Handler struct {
	logger   logrus.FieldLogger
	provider *Provider
	codec    *Codec
	baseURL  *url.URL

	onAuthenticated AuthenticatedFunc

	refreshGroup singleflight.Group
}

// HandlerOpt is an option that can configure a Handler.
type HandlerOpt func(h *Handler)

// WithAuthenticatedFunc registers a hook invoked after each successful
// callback.
func WithAuthenticatedFunc(fn AuthenticatedFunc) HandlerOpt {
	return func(h *Handler) {
		h.onAuthenticated = fn
	}
}

// NewHandler builds a Handler. baseURL is the externally reachable base URL
// of this service, used to build absolute redirect_to targets.
func NewHandler(logger logrus.FieldLogger, provider *Provider, codec *Codec, baseURL string, opts ...HandlerOpt) (*Handler, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base URL %q must be absolute", baseURL)
	}

	h := &Handler{
		logger:   logger,
		provider: provider,
		codec:    codec,
		baseURL:  u,
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// AddRoutes mounts the auth endpoints on the router. None of them require
// authentication.
func (h *Handler) AddRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", h.handleLogout).Methods(http.MethodGet, http.MethodPost)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := randomToken()
	nonce := randomToken()

	// A lingering id_token from a prior session is passed along as a hint, so
	// the issuer can skip prompts or correlate a re-auth with it.
	idTokenHint, err := h.codec.IDToken(r)
	if err != nil {
		idTokenHint = ""
	}

	if err := h.codec.SetCSRFState(w, state); err != nil {
		h.internalError(w, err, "failed to set csrf_state cookie")
		return
	}
	if err := h.codec.SetNonce(w, nonce); err != nil {
		h.internalError(w, err, "failed to set nonce cookie")
		return
	}

	if redirectTo := r.URL.Query().Get("redirect_to"); redirectTo != "" {
		if err := h.codec.SetLoginRedirect(w, redirectTo); err != nil {
			h.internalError(w, err, "failed to set login_redirect_to cookie")
			return
		}
	} else {
		h.codec.ClearLoginRedirect(w)
	}

	http.Redirect(w, r, h.provider.AuthURL(state, nonce, idTokenHint), http.StatusSeeOther)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	csrfState, csrfErr := h.codec.CSRFState(r)
	// The CSRF cookie is single-use. Drop it no matter how the check goes.
	h.codec.ClearCSRFState(w)
	if csrfErr != nil {
		http.Error(w, "CSRF state missing", http.StatusBadRequest)
		return
	}
	if csrfState != r.URL.Query().Get("state") {
		http.Error(w, "CSRF state mismatch", http.StatusBadRequest)
		return
	}

	token, err := h.provider.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		h.logger.WithError(err).Warn("authorization code exchange failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	nonce, err := h.codec.Nonce(r)
	if err != nil {
		http.Error(w, "Nonce missing", http.StatusBadRequest)
		return
	}

	session, idClaims, err := h.processToken(ctx, token, nonce)
	if err != nil {
		h.logger.WithError(err).Warn("failed to process token response")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if h.onAuthenticated != nil {
		if err := h.onAuthenticated(ctx, MergeClaims(idClaims, session.AdditionalClaims)); err != nil {
			h.internalError(w, err, "authenticated hook failed")
			return
		}
	}

	if err := h.codec.SetSession(w, session); err != nil {
		h.internalError(w, err, "failed to write session cookies")
		return
	}

	redirectTo := h.codec.LoginRedirect(r)
	if redirectTo == "" {
		redirectTo = "/"
	}
	h.codec.ClearLoginRedirect(w)

	http.Redirect(w, r, redirectTo, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.codec.Session(r)
	if err == nil && h.provider.SupportsRevocation() {
		// Best effort: a dead IdP should not leave the user unable to clear
		// their local session.
		if err := h.provider.Revoke(ctx, session.RefreshToken, "refresh_token"); err != nil {
			h.logger.WithError(err).Warn("failed to revoke refresh token")
		}
		if err := h.provider.Revoke(ctx, session.AccessToken, "access_token"); err != nil {
			h.logger.WithError(err).Warn("failed to revoke access token")
		}
	}

	h.codec.ClearSession(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// processToken runs the common validation on a token endpoint response, used
// both by the callback and by the middleware's refresh path: the refresh
// token and id_token must be present, the id_token must verify against the
// login nonce, and the supplemental claims are fetched from userinfo. Any
// failure is terminal; nothing is retried.
func (h *Handler) processToken(ctx context.Context, token *oauth2.Token, nonce string) (*Session, *IDTokenClaims, error) {
	if token.RefreshToken == "" {
		return nil, nil, ErrMissingRefreshToken
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, ErrMissingIDToken
	}

	idClaims, err := h.provider.VerifyIDToken(ctx, rawIDToken, nonce)
	if err != nil {
		return nil, nil, err
	}

	additionalClaims, err := h.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	return &Session{
		IDToken:          rawIDToken,
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		AdditionalClaims: additionalClaims,
	}, idClaims, nil
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func randomToken() string {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
