package oidc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key := make([]byte, KeyLength)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewCodec(key, false)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// requestWithCookies copies the cookies set on a recorder into a fresh
// request, like a browser echoing them back.
func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder, drop ...string) *http.Request {
	t.Helper()
	r := httptest.NewRequest("GET", "/", nil)
outer:
	for _, cookie := range rec.Result().Cookies() {
		for _, d := range drop {
			if cookie.Name == d {
				continue outer
			}
		}
		r.AddCookie(cookie)
	}
	return r
}

func TestSessionRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	want := &Session{
		IDToken:          "id-token",
		AccessToken:      "access-token",
		RefreshToken:     "refresh-token",
		AdditionalClaims: SupplementalClaims{Groups: []string{"admins", "users"}},
	}

	rec := httptest.NewRecorder()
	if err := c.SetSession(rec, want); err != nil {
		t.Fatal(err)
	}

	got, err := c.Session(requestWithCookies(t, rec))
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("session didn't survive round trip: %s", diff)
	}

	idToken, err := c.IDToken(requestWithCookies(t, rec))
	if err != nil {
		t.Fatal(err)
	}
	if idToken != want.IDToken {
		t.Errorf("want id_token %q, got %q", want.IDToken, idToken)
	}
}

func TestSessionMissingCookies(t *testing.T) {
	c := newTestCodec(t)

	rec := httptest.NewRecorder()
	if err := c.SetSession(rec, &Session{
		IDToken:      "id-token",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
	}); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		drop []string
		want string
	}{
		{name: "no id_token", drop: []string{"id_token"}, want: "id_token"},
		{name: "no access_token", drop: []string{"access_token"}, want: "access_token"},
		{name: "no refresh_token", drop: []string{"refresh_token"}, want: "refresh_token"},
		{name: "no additional_claims", drop: []string{"additional_claims"}, want: "additional_claims"},
		// the first missing cookie in decode order is the one reported
		{name: "several missing", drop: []string{"access_token", "additional_claims"}, want: "access_token"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Session(requestWithCookies(t, rec, tc.drop...))
			if err == nil {
				t.Fatal("want error, got none")
			}
			if !IsMissingCookieErr(err) {
				t.Fatalf("want missing cookie error, got %v", err)
			}
			if got := err.(*MissingCookieError).Name; got != tc.want {
				t.Errorf("want %s reported missing, got %s", tc.want, got)
			}
		})
	}
}

func TestSessionTamperedCookie(t *testing.T) {
	c := newTestCodec(t)

	rec := httptest.NewRecorder()
	if err := c.SetSession(rec, &Session{
		IDToken:      "id-token",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
	}); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "id_token" {
			cookie.Value = "garbage" + cookie.Value
		}
		r.AddCookie(cookie)
	}

	_, err := c.Session(r)
	if err == nil {
		t.Fatal("want error decoding tampered cookie, got none")
	}
	if IsMissingCookieErr(err) {
		t.Errorf("tampered cookie should not read as missing, got %v", err)
	}
}

func TestSessionKeyMismatch(t *testing.T) {
	c := newTestCodec(t)

	otherKey := make([]byte, KeyLength)
	for i := range otherKey {
		otherKey[i] = byte(255 - i)
	}
	other, err := NewCodec(otherKey, false)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	if err := c.SetSession(rec, &Session{
		IDToken:      "id-token",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := other.Session(requestWithCookies(t, rec)); err == nil {
		t.Error("session decoded under a different key")
	}
}

func TestNonce(t *testing.T) {
	c := newTestCodec(t)

	_, err := c.Nonce(httptest.NewRequest("GET", "/", nil))
	if err != ErrMissingNonce {
		t.Errorf("want ErrMissingNonce, got %v", err)
	}

	rec := httptest.NewRecorder()
	if err := c.SetNonce(rec, "the-nonce"); err != nil {
		t.Fatal(err)
	}
	nonce, err := c.Nonce(requestWithCookies(t, rec))
	if err != nil {
		t.Fatal(err)
	}
	if nonce != "the-nonce" {
		t.Errorf("want nonce %q, got %q", "the-nonce", nonce)
	}
}

func TestCSRFState(t *testing.T) {
	c := newTestCodec(t)

	rec := httptest.NewRecorder()
	if err := c.SetCSRFState(rec, "the-state"); err != nil {
		t.Fatal(err)
	}

	// the csrf cookie must die with the browser session
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "csrf_state" && cookie.MaxAge != 0 {
			t.Errorf("csrf_state cookie has max-age %d, want none", cookie.MaxAge)
		}
	}

	state, err := c.CSRFState(requestWithCookies(t, rec))
	if err != nil {
		t.Fatal(err)
	}
	if state != "the-state" {
		t.Errorf("want state %q, got %q", "the-state", state)
	}

	if _, err := c.CSRFState(httptest.NewRequest("GET", "/", nil)); !IsMissingCookieErr(err) {
		t.Errorf("want missing cookie error, got %v", err)
	}
}

func TestLoginRedirectCookie(t *testing.T) {
	c := newTestCodec(t)

	if got := c.LoginRedirect(httptest.NewRequest("GET", "/", nil)); got != "" {
		t.Errorf("want empty redirect for bare request, got %q", got)
	}

	rec := httptest.NewRecorder()
	if err := c.SetLoginRedirect(rec, "/original/path?q=1"); err != nil {
		t.Fatal(err)
	}
	if got := c.LoginRedirect(requestWithCookies(t, rec)); got != "/original/path?q=1" {
		t.Errorf("want redirect %q, got %q", "/original/path?q=1", got)
	}
}

func TestClearSession(t *testing.T) {
	c := newTestCodec(t)

	rec := httptest.NewRecorder()
	c.ClearSession(rec)

	cleared := map[string]bool{}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge >= 0 {
			t.Errorf("cookie %s not expired", cookie.Name)
		}
		cleared[cookie.Name] = true
	}
	for _, name := range []string{"id_token", "access_token", "refresh_token", "additional_claims", "nonce"} {
		if !cleared[name] {
			t.Errorf("cookie %s not cleared", name)
		}
	}
}
