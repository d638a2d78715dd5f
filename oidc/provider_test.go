package oidc

import (
	"context"
	"testing"
	"time"
)

func TestProviderDiscovery(t *testing.T) {
	ctx := context.Background()

	p := StartTestProvider(t)
	p.ClientID = "test-client"
	p.ClientSecret = "test-secret"

	provider, err := NewProvider(ctx, ProviderConfig{
		Issuer:      p.URL(),
		ClientID:    p.ClientID,
		RedirectURL: "http://localhost/auth/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !provider.HasTokenEndpoint() {
		t.Error("want token endpoint from discovery")
	}
	if !provider.SupportsRevocation() {
		t.Error("want revocation endpoint from discovery")
	}
}

func TestProviderDiscoveryWithoutRevocation(t *testing.T) {
	ctx := context.Background()

	p := StartTestProvider(t)
	p.ClientID = "test-client"
	p.OmitRevocationEndpoint = true

	// a provider without a revocation endpoint is still usable
	provider, err := NewProvider(ctx, ProviderConfig{
		Issuer:      p.URL(),
		ClientID:    p.ClientID,
		RedirectURL: "http://localhost/auth/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if provider.SupportsRevocation() {
		t.Error("revocation should not be supported")
	}
	if err := provider.Revoke(ctx, "token", "refresh_token"); err == nil {
		t.Error("want error revoking without an endpoint, got none")
	}
}

func TestProviderDiscoveryWithoutTokenEndpoint(t *testing.T) {
	ctx := context.Background()

	p := StartTestProvider(t)
	p.ClientID = "test-client"
	p.OmitTokenEndpoint = true

	provider, err := NewProvider(ctx, ProviderConfig{
		Issuer:      p.URL(),
		ClientID:    p.ClientID,
		RedirectURL: "http://localhost/auth/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if provider.HasTokenEndpoint() {
		t.Error("token endpoint should not be discovered")
	}
}

func TestVerifyIDToken(t *testing.T) {
	ctx := context.Background()

	p := StartTestProvider(t)
	p.ClientID = "test-client"

	provider, err := NewProvider(ctx, ProviderConfig{
		Issuer:      p.URL(),
		ClientID:    p.ClientID,
		RedirectURL: "http://localhost/auth/callback",
	})
	if err != nil {
		t.Fatal(err)
	}

	raw := p.SignIDToken(map[string]interface{}{"sub": "user-1", "nonce": "n1"}, time.Minute)

	claims, err := provider.VerifyIDToken(ctx, raw, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("want subject user-1, got %q", claims.Subject)
	}
	if claims.Issuer != p.URL() {
		t.Errorf("want issuer %q, got %q", p.URL(), claims.Issuer)
	}

	if _, err := provider.VerifyIDToken(ctx, raw, "other-nonce"); err != ErrInvalidNonce {
		t.Errorf("want ErrInvalidNonce, got %v", err)
	}

	expired := p.SignIDToken(map[string]interface{}{"sub": "user-1", "nonce": "n1"}, -time.Minute)
	if _, err := provider.VerifyIDToken(ctx, expired, "n1"); err == nil {
		t.Error("want error verifying expired token, got none")
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	p := StartTestProvider(t)
	p.ClientID = "test-client"
	p.ClientSecret = "test-secret"

	provider, err := NewProvider(ctx, ProviderConfig{
		Issuer:       p.URL(),
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  "http://localhost/auth/callback",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := provider.Revoke(ctx, "the-token", "refresh_token"); err != nil {
		t.Fatal(err)
	}
	revoked := p.Revoked()
	if len(revoked) != 1 || revoked[0] != "the-token" {
		t.Errorf("want [the-token] revoked, got %v", revoked)
	}
}
