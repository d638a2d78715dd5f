package oidc

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// ProviderConfig is the immutable client identity for the relying party.
type ProviderConfig struct {
	// Issuer is the OIDC issuer URL. Discovery is performed against its
	// well-known endpoint.
	Issuer string
	// ClientID is the client ID registered with the issuer.
	ClientID string
	// ClientSecret is the client secret, if the client is confidential.
	ClientSecret string
	// RedirectURL is the callback URL registered with the issuer.
	RedirectURL string
	// Scopes to request. If nil, openid, profile, email and offline_access
	// are requested.
	Scopes []string
}

// Provider binds the client config to the metadata discovered from the
// issuer. It is created once at startup and shared read-only by all requests;
// refreshing the metadata requires a restart.
type Provider struct {
	cfg      ProviderConfig
	provider *gooidc.Provider
	oauth2   oauth2.Config

	revocationEndpoint string

	hc *http.Client
}

// ProviderOpt is an option that can configure a Provider.
type ProviderOpt func(p *Provider)

// WithHTTPClient sets the http.Client used for discovery and all subsequent
// calls to the issuer. Callers should set one with a timeout so a stalled IdP
// cannot hold requests open indefinitely. If not set, http.DefaultClient is
// used.
func WithHTTPClient(hc *http.Client) ProviderOpt {
	return func(p *Provider) {
		p.hc = hc
	}
}

// NewProvider performs discovery against the issuer and returns a Provider
// ready to run the authorization code flow. A failure here is fatal to
// startup; no traffic should be served without it.
func NewProvider(ctx context.Context, cfg ProviderConfig, opts ...ProviderOpt) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	p := &Provider{
		cfg: cfg,
		hc:  http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}

	provider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, p.hc), cfg.Issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "discovery against %s failed", cfg.Issuer)
	}
	p.provider = provider

	// The revocation endpoint is not part of the core discovery document, so
	// decode it separately. Providers without one are still usable; logout
	// just skips revocation.
	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err == nil {
		p.revocationEndpoint = extra.RevocationEndpoint
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email", gooidc.ScopeOfflineAccess}
	}
	p.oauth2 = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	return p, nil
}

// AuthURL constructs the issuer's authorization endpoint URL with the given
// state and nonce. idTokenHint, if non-empty, is passed through so the issuer
// can correlate re-authentication with the prior session.
func (p *Provider) AuthURL(state, nonce, idTokenHint string) string {
	opts := []oauth2.AuthCodeOption{gooidc.Nonce(nonce)}
	if idTokenHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("id_token_hint", idTokenHint))
	}
	return p.oauth2.AuthCodeURL(state, opts...)
}

// Exchange swaps an authorization code for tokens at the token endpoint.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth2.Exchange(gooidc.ClientContext(ctx, p.hc), code)
}

// Refresh exchanges a refresh token for a new token set. Exactly one round
// trip; no retries.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := p.oauth2.TokenSource(gooidc.ClientContext(ctx, p.hc), &oauth2.Token{RefreshToken: refreshToken})
	return ts.Token()
}

// HasTokenEndpoint reports whether the discovered metadata includes a token
// endpoint, i.e. whether a refresh is even possible.
func (p *Provider) HasTokenEndpoint() bool {
	return p.oauth2.Endpoint.TokenURL != ""
}

// SupportsRevocation reports whether the issuer advertised a revocation
// endpoint.
func (p *Provider) SupportsRevocation() bool {
	return p.revocationEndpoint != ""
}

// VerifyIDToken verifies the raw id_token's signature against the discovered
// key set, its issuer, audience and expiry, and that its embedded nonce
// matches the one issued at login. On success the typed claims are returned.
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*IDTokenClaims, error) {
	verifier := p.provider.Verifier(&gooidc.Config{ClientID: p.cfg.ClientID})
	idToken, err := verifier.Verify(gooidc.ClientContext(ctx, p.hc), rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "id_token verification failed")
	}
	if idToken.Nonce != nonce {
		return nil, ErrInvalidNonce
	}

	claims := &IDTokenClaims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, errors.Wrap(err, "failed to decode id_token claims")
	}
	return claims, nil
}

// UserInfo fetches the supplemental claims from the userinfo endpoint using
// the access token as a bearer credential.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (SupplementalClaims, error) {
	var claims SupplementalClaims

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	ui, err := p.provider.UserInfo(gooidc.ClientContext(ctx, p.hc), ts)
	if err != nil {
		return claims, errors.Wrap(err, "userinfo request failed")
	}
	if err := ui.Claims(&claims); err != nil {
		return claims, errors.Wrap(err, "failed to decode userinfo claims")
	}
	return claims, nil
}

// Revoke revokes the given token at the issuer's revocation endpoint.
// tokenTypeHint should be "refresh_token" or "access_token".
func (p *Provider) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if p.revocationEndpoint == "" {
		return errors.New("provider has no revocation endpoint")
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build revocation request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(p.cfg.ClientSecret))

	resp, err := p.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "revocation request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("revocation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
