package oidc

import "context"

// IDTokenClaims are the claims carried by a verified id_token. The shape is
// fixed; anything the provider adds beyond it is ignored here and carried as
// SupplementalClaims instead.
type IDTokenClaims struct {
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Expiry        int64  `json:"exp"`
	IssuedAt      int64  `json:"iat"`
	Nonce         string `json:"nonce,omitempty"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// SupplementalClaims are claims that only ever arrive from the userinfo
// endpoint, not the id_token itself. They are captured at login/refresh time
// and stored alongside the tokens.
type SupplementalClaims struct {
	Groups []string `json:"groups,omitempty"`
}

// Claims is the merged view handed to downstream handlers: the verified
// id_token claims with the supplemental claims overlaid. Supplemental fields
// default to absent-but-valid when the userinfo payload did not include them.
type Claims struct {
	IDTokenClaims
	SupplementalClaims
}

// MergeClaims builds the merged claims by direct field composition. The
// id_token claims are never modified.
func MergeClaims(idClaims *IDTokenClaims, extra SupplementalClaims) Claims {
	c := Claims{IDTokenClaims: *idClaims}
	if extra.Groups != nil {
		c.Groups = append([]string(nil), extra.Groups...)
	}
	return c
}

type claimsContextKey struct{}

// ContextWithClaims returns a context carrying the merged claims for the
// authenticated request.
func ContextWithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClaimsFromContext returns the merged claims attached by the middleware, if
// the request was authenticated.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(Claims)
	return c, ok
}
