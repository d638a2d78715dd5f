package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
)

// Wrap returns an http.Handler that gates next behind a valid session.
//
// The per-request state machine: decode the session cookies, verify the
// id_token against the login nonce, and on verification failure make exactly
// one refresh attempt. If that also fails the client must re-authenticate:
// GET requests are redirected to the login endpoint with the original URL as
// the post-login target, anything else gets the raw error, since silently
// redirecting a non-idempotent request would drop its body.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		session, err := h.codec.Session(r)
		if err != nil {
			h.reauthenticate(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		nonce, err := h.codec.Nonce(r)
		if err != nil {
			h.reauthenticate(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		idClaims, err := h.provider.VerifyIDToken(ctx, session.IDToken, nonce)
		if err != nil {
			if !h.provider.HasTokenEndpoint() {
				h.reauthenticate(w, r, http.StatusUnauthorized, "ID token verification failed")
				return
			}

			newSession, newClaims, err := h.refresh(ctx, session.RefreshToken, nonce)
			if err != nil {
				h.logger.WithError(err).Debug("token refresh failed")
				h.reauthenticate(w, r, http.StatusUnauthorized, "ID token verification failed")
				return
			}

			// The refreshed cookie set replaces the old one wholesale.
			session = newSession
			idClaims = newClaims
			if err := h.codec.SetSession(w, session); err != nil {
				h.internalError(w, err, "failed to write refreshed session cookies")
				return
			}
		}

		merged := MergeClaims(idClaims, session.AdditionalClaims)
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, merged)))
	})
}

// refresh performs the single refresh attempt for a request. Concurrent
// requests holding the same refresh token share one exchange instead of
// racing the IdP with duplicates; the dedup key never contains the raw token.
func (h *Handler) refresh(ctx context.Context, refreshToken, nonce string) (*Session, *IDTokenClaims, error) {
	type refreshed struct {
		session *Session
		claims  *IDTokenClaims
	}

	sum := sha256.Sum256([]byte(refreshToken))
	v, err, _ := h.refreshGroup.Do(hex.EncodeToString(sum[:]), func() (interface{}, error) {
		h.logger.Debug("refreshing tokens")
		token, err := h.provider.Refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		session, claims, err := h.processToken(ctx, token, nonce)
		if err != nil {
			return nil, err
		}
		return &refreshed{session: session, claims: claims}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(*refreshed)
	return res.session, res.claims, nil
}

func (h *Handler) reauthenticate(w http.ResponseWriter, r *http.Request, status int, reason string) {
	h.logger.WithField("reason", reason).Debug("re-authenticating user")

	if r.Method != http.MethodGet {
		http.Error(w, reason, status)
		return
	}

	w.Header().Set("X-Auth-Error", reason)

	v := url.Values{}
	v.Set("redirect_to", h.externalURL(r))
	http.Redirect(w, r, "/auth/login?"+v.Encode(), http.StatusSeeOther)
}

// externalURL reconstructs the absolute URL of the request as seen by the
// client, based on the configured base URL.
func (h *Handler) externalURL(r *http.Request) string {
	u := *h.baseURL
	u.Path = r.URL.Path
	u.RawQuery = r.URL.RawQuery
	return u.String()
}
