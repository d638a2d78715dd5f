package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// TestProvider is an in-process OIDC provider implementing just enough of the
// protocol for tests: discovery, authorization, token (code and refresh
// grants), JWKS, userinfo and revocation. It signs RS256 id_tokens with a
// throwaway key.
type TestProvider struct {
	// ClientID, ClientSecret and RedirectURL are what the provider will
	// accept. Set them before driving a flow.
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// ExtraClaims are folded into every issued id_token.
	ExtraClaims map[string]interface{}
	// Groups is returned by the userinfo endpoint.
	Groups []string
	// TokenTTL is the issued id_token lifetime. Negative values produce
	// already-expired tokens. Defaults to one minute.
	TokenTTL time.Duration
	// OmitRefreshToken causes token responses to carry no refresh_token.
	OmitRefreshToken bool
	// OmitTokenEndpoint removes the token endpoint from the discovery
	// document.
	OmitTokenEndpoint bool
	// OmitRevocationEndpoint removes the revocation endpoint from the
	// discovery document.
	OmitRevocationEndpoint bool

	baseURL string
	key     *rsa.PrivateKey
	srv     *httptest.Server

	mu sync.Mutex
	// tokenDelay slows the token endpoint down, to widen race windows in
	// tests exercising concurrent refreshes.
	tokenDelay    time.Duration
	codes         map[string]string // code -> nonce
	lastNonce     string
	accessToken   string
	refreshToken  string
	codeGrants    int
	refreshGrants int
	revoked       []string
}

// StartTestProvider starts a TestProvider on a random local port. The server
// is shut down when the test finishes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	p := &TestProvider{
		TokenTTL: time.Minute,
		key:      key,
		codes:    make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/auth", p.handleAuth)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/keys", p.handleKeys)
	mux.HandleFunc("/userinfo", p.handleUserInfo)
	mux.HandleFunc("/revoke", p.handleRevoke)

	p.srv = httptest.NewServer(mux)
	p.baseURL = p.srv.URL
	t.Cleanup(p.srv.Close)

	return p
}

// URL returns the provider's issuer URL.
func (p *TestProvider) URL() string {
	return p.baseURL
}

// CodeGrants returns how many authorization_code grants the token endpoint
// has served.
func (p *TestProvider) CodeGrants() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeGrants
}

// RefreshGrants returns how many refresh_token grants the token endpoint has
// served.
func (p *TestProvider) RefreshGrants() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshGrants
}

// Revoked returns the tokens revoked via the revocation endpoint, in order.
func (p *TestProvider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// SignIDToken signs an id_token with the provider's key, with iss/aud/iat
// filled in and the given lifetime. Extra claims (sub, nonce, ...) come from
// claims.
func (p *TestProvider) SignIDToken(claims map[string]interface{}, ttl time.Duration) string {
	now := time.Now()
	all := map[string]interface{}{
		"iss": p.baseURL,
		"aud": p.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	for k, v := range p.ExtraClaims {
		all[k] = v
	}
	for k, v := range claims {
		all[k] = v
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: p.key, Algorithm: "RS256", KeyID: "test"},
	}, nil)
	if err != nil {
		panic(err)
	}
	payload, err := json.Marshal(all)
	if err != nil {
		panic(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		panic(err)
	}
	raw, err := jws.CompactSerialize()
	if err != nil {
		panic(err)
	}
	return raw
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"issuer":                   p.baseURL,
		"authorization_endpoint":   p.baseURL + "/auth",
		"jwks_uri":                 p.baseURL + "/keys",
		"userinfo_endpoint":        p.baseURL + "/userinfo",
		"response_types_supported": []string{"code"},
	}
	if !p.OmitTokenEndpoint {
		doc["token_endpoint"] = p.baseURL + "/token"
	}
	if !p.OmitRevocationEndpoint {
		doc["revocation_endpoint"] = p.baseURL + "/revoke"
	}
	writeJSON(w, doc)
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != p.ClientID {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}
	if q.Get("redirect_uri") != p.RedirectURL {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("response_type") != "code" {
		http.Error(w, "invalid response_type", http.StatusBadRequest)
		return
	}

	code := fmt.Sprintf("code-%d", time.Now().UnixNano())
	p.mu.Lock()
	p.codes[code] = q.Get("nonce")
	p.mu.Unlock()

	redirect := fmt.Sprintf("%s?code=%s&state=%s", p.RedirectURL, code, q.Get("state"))
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "not a POST request", http.StatusMethodNotAllowed)
		return
	}
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID != p.ClientID || clientSecret != p.ClientSecret {
		http.Error(w, "invalid client credentials", http.StatusUnauthorized)
		return
	}

	p.mu.Lock()
	delay := p.tokenDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	var nonce string
	switch r.FormValue("grant_type") {
	case "authorization_code":
		code := r.FormValue("code")
		p.mu.Lock()
		nonce, ok = p.codes[code]
		delete(p.codes, code)
		p.codeGrants++
		p.mu.Unlock()
		if !ok {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}
	case "refresh_token":
		p.mu.Lock()
		valid := r.FormValue("refresh_token") == p.refreshToken && p.refreshToken != ""
		nonce = p.lastNonce
		p.refreshGrants++
		p.mu.Unlock()
		if !valid {
			http.Error(w, "invalid refresh_token", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "unsupported grant_type", http.StatusBadRequest)
		return
	}

	idToken := p.SignIDToken(map[string]interface{}{"nonce": nonce}, p.ttl())

	accessToken := fmt.Sprintf("at-%d", time.Now().UnixNano())
	refreshToken := fmt.Sprintf("rt-%d", time.Now().UnixNano())
	p.mu.Lock()
	p.lastNonce = nonce
	p.accessToken = accessToken
	if !p.OmitRefreshToken {
		p.refreshToken = refreshToken
	}
	p.mu.Unlock()

	resp := map[string]interface{}{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(p.ttl().Seconds()),
		"id_token":     idToken,
	}
	if !p.OmitRefreshToken {
		resp["refresh_token"] = refreshToken
	}
	writeJSON(w, resp)
}

func (p *TestProvider) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: p.key.Public(), Algorithm: "RS256", KeyID: "test", Use: "sig"},
	}})
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	valid := r.Header.Get("Authorization") == "Bearer "+p.accessToken && p.accessToken != ""
	p.mu.Unlock()
	if !valid {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	sub, _ := p.ExtraClaims["sub"].(string)
	writeJSON(w, map[string]interface{}{
		"sub":    sub,
		"groups": p.Groups,
	})
}

func (p *TestProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "not a POST request", http.StatusMethodNotAllowed)
		return
	}
	p.mu.Lock()
	p.revoked = append(p.revoked, r.FormValue("token"))
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *TestProvider) ttl() time.Duration {
	if p.TokenTTL == 0 {
		return time.Minute
	}
	return p.TokenTTL
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
