package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// User is an account provisioned from verified OIDC claims. Subject is the
// issuer-scoped stable identifier; Name and Email track the latest claims.
type User struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

// Link is a destination URL with the shortcut codes that expand to it.
type Link struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Shortcuts []string  `json:"shortcuts"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage is the persistence interface used by the service. Implementations
// must be safe for concurrent use.
type Storage interface {
	// UpsertUser creates or updates the user keyed by Subject, assigning an
	// ID on first creation. The stored user is returned.
	UpsertUser(ctx context.Context, u User) (User, error)
	// GetUserBySubject returns the user with the given subject. If no such
	// user exists, an IsNotFoundErr will be returned.
	GetUserBySubject(ctx context.Context, subject string) (User, error)

	// CreateLink stores a new link, assigning ID and CreatedAt. If any of its
	// shortcut codes is already taken, an IsConflictErr will be returned and
	// nothing is stored.
	CreateLink(ctx context.Context, l Link) (Link, error)
	// GetLink returns the link with the given ID. If it doesn't exist, an
	// IsNotFoundErr will be returned.
	GetLink(ctx context.Context, id string) (Link, error)
	// ListLinksByUser returns all links created by the given user.
	ListLinksByUser(ctx context.Context, userID string) ([]Link, error)
	// DeleteLink removes the link and its shortcuts. If the link doesn't
	// exist, an IsNotFoundErr will be returned.
	DeleteLink(ctx context.Context, id string) error

	// ResolveShortcut returns the link a shortcut code expands to. If the
	// code is unknown, an IsNotFoundErr will be returned.
	ResolveShortcut(ctx context.Context, code string) (Link, error)

	Close() error
}

type errNotFound interface {
	NotFoundErr()
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state. Errors comply to this if they
// have an `NotFoundErr()` method.
func IsNotFoundErr(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

type errConflict interface {
	ConflictErr()
}

// IsConflictErr checks to see if the passed error occurred because an item
// already exists. Errors comply to this if they have a `ConflictErr()`
// method.
func IsConflictErr(err error) bool {
	_, ok := err.(errConflict)
	return ok
}

// NewID returns a random identifier suitable for keying stored objects.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
