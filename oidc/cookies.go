package oidc

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"
)

const (
	cookieIDToken          = "id_token"
	cookieAccessToken      = "access_token"
	cookieRefreshToken     = "refresh_token"
	cookieAdditionalClaims = "additional_claims"
	cookieNonce            = "nonce"
	cookieCSRFState        = "csrf_state"
	cookieLoginRedirectTo  = "login_redirect_to"

	// sessionMaxAge bounds both the cookie lifetime and the validity window
	// of the authenticated encryption.
	sessionMaxAge = 14 * 24 * time.Hour
)

// Session is the full set of credentials carried client-side. All four fields
// must be present for a request to count as authenticated; partial presence
// is treated as absence.
type Session struct {
	IDToken          string
	AccessToken      string
	RefreshToken     string
	AdditionalClaims SupplementalClaims
}

// Codec serializes the session into a set of encrypted, signed cookies and
// back. It holds no per-request state and is safe for concurrent use.
type Codec struct {
	sc     *securecookie.SecureCookie
	secure bool
}

// NewCodec builds a Codec from the master key. The securecookie hash and
// block keys are derived from it, never used raw. Set secure for deployments
// serving over TLS so cookies are marked Secure.
func NewCodec(masterKey []byte, secure bool) (*Codec, error) {
	if len(masterKey) < 32 {
		return nil, errors.Errorf("master key is %d bytes, want at least 32", len(masterKey))
	}

	hashKey, err := deriveKey(masterKey, "cookie hash key", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(masterKey, "cookie block key", 32)
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(sessionMaxAge.Seconds()))

	return &Codec{sc: sc, secure: secure}, nil
}

// SetSession writes the full session cookie set to the response, overwriting
// any previous values.
func (c *Codec) SetSession(w http.ResponseWriter, s *Session) error {
	if err := c.set(w, cookieIDToken, s.IDToken, sessionMaxAge); err != nil {
		return err
	}
	if err := c.set(w, cookieAccessToken, s.AccessToken, sessionMaxAge); err != nil {
		return err
	}
	if err := c.set(w, cookieRefreshToken, s.RefreshToken, sessionMaxAge); err != nil {
		return err
	}
	return c.set(w, cookieAdditionalClaims, s.AdditionalClaims, sessionMaxAge)
}

// Session reconstructs the session from the request cookies. Presence is
// checked in a fixed order and the first missing cookie fails the whole
// decode with a MissingCookieError naming it.
func (c *Codec) Session(r *http.Request) (*Session, error) {
	s := &Session{}
	if err := c.get(r, cookieIDToken, &s.IDToken); err != nil {
		return nil, err
	}
	if err := c.get(r, cookieAccessToken, &s.AccessToken); err != nil {
		return nil, err
	}
	if err := c.get(r, cookieRefreshToken, &s.RefreshToken); err != nil {
		return nil, err
	}
	if err := c.get(r, cookieAdditionalClaims, &s.AdditionalClaims); err != nil {
		return nil, err
	}
	return s, nil
}

// IDToken returns just the id_token cookie, for use as an id_token_hint when
// re-initiating login from a stale session.
func (c *Codec) IDToken(r *http.Request) (string, error) {
	var t string
	if err := c.get(r, cookieIDToken, &t); err != nil {
		return "", err
	}
	return t, nil
}

// ClearSession expires the session cookie set and the nonce cookie.
func (c *Codec) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{cookieIDToken, cookieAccessToken, cookieRefreshToken, cookieAdditionalClaims, cookieNonce} {
		c.clear(w, name)
	}
}

// SetNonce stores the per-login nonce. It outlives the login round-trip
// because the middleware re-checks it against the id_token on every request.
func (c *Codec) SetNonce(w http.ResponseWriter, nonce string) error {
	return c.set(w, cookieNonce, nonce, sessionMaxAge)
}

func (c *Codec) Nonce(r *http.Request) (string, error) {
	var nonce string
	if err := c.get(r, cookieNonce, &nonce); err != nil {
		if IsMissingCookieErr(err) {
			return "", ErrMissingNonce
		}
		return "", err
	}
	return nonce, nil
}

// SetCSRFState stores the login CSRF token for the lifetime of the login
// round-trip (no max-age, so the cookie dies with the browser session).
func (c *Codec) SetCSRFState(w http.ResponseWriter, state string) error {
	return c.set(w, cookieCSRFState, state, 0)
}

func (c *Codec) CSRFState(r *http.Request) (string, error) {
	var state string
	if err := c.get(r, cookieCSRFState, &state); err != nil {
		return "", err
	}
	return state, nil
}

func (c *Codec) ClearCSRFState(w http.ResponseWriter) {
	c.clear(w, cookieCSRFState)
}

// SetLoginRedirect remembers where to send the user after a successful
// callback.
func (c *Codec) SetLoginRedirect(w http.ResponseWriter, to string) error {
	return c.set(w, cookieLoginRedirectTo, to, 0)
}

// LoginRedirect returns the stored post-login redirect target, or empty if
// none was stored or it cannot be decoded.
func (c *Codec) LoginRedirect(r *http.Request) string {
	var to string
	if err := c.get(r, cookieLoginRedirectTo, &to); err != nil {
		return ""
	}
	return to
}

func (c *Codec) ClearLoginRedirect(w http.ResponseWriter) {
	c.clear(w, cookieLoginRedirectTo)
}

func (c *Codec) set(w http.ResponseWriter, name string, value interface{}, maxAge time.Duration) error {
	encoded, err := c.sc.Encode(name, value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s cookie", name)
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
	return nil
}

func (c *Codec) get(r *http.Request, name string, into interface{}) error {
	cookie, err := r.Cookie(name)
	if err != nil {
		return &MissingCookieError{Name: name}
	}
	if err := c.sc.Decode(name, cookie.Value, into); err != nil {
		return errors.Wrapf(err, "failed to decode %s cookie", name)
	}
	return nil
}

func (c *Codec) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
