package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIDToken is returned when a token endpoint response does not
	// contain an id_token.
	ErrMissingIDToken = errors.New("id_token missing from token response")
	// ErrMissingRefreshToken is returned when a token endpoint response does
	// not contain a refresh_token. Sessions are only established when the
	// provider grants one, otherwise they could never be refreshed.
	ErrMissingRefreshToken = errors.New("refresh_token missing from token response")
	// ErrMissingNonce is returned when the nonce cookie set at login time is
	// absent from the request.
	ErrMissingNonce = errors.New("nonce cookie missing")
	// ErrInvalidNonce is returned when the nonce embedded in an otherwise
	// valid id_token does not match the nonce issued at login time.
	ErrInvalidNonce = errors.New("id_token nonce mismatch")
)

// MissingCookieError indicates that a cookie required to reconstruct the
// session was not present on the request. Name is the name of the first
// missing cookie; later cookies are not checked.
type MissingCookieError struct {
	Name string
}

func (e *MissingCookieError) Error() string {
	return fmt.Sprintf("%s cookie missing", e.Name)
}

// IsMissingCookieErr checks if the passed error indicates an absent session
// cookie, as opposed to a cookie that was present but failed to decode.
func IsMissingCookieErr(err error) bool {
	var mc *MissingCookieError
	return errors.As(err, &mc)
}
