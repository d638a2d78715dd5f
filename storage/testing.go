package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

// Test runs the conformance suite against a Storage implementation. Subtests
// use distinct identifiers, so they do not need to clean up after themselves.
func Test(ctx context.Context, t *testing.T, s Storage) {
	t.Run("UpsertUser", func(t *testing.T) { testUpsertUser(ctx, t, s) })
	t.Run("LinkLifecycle", func(t *testing.T) { testLinkLifecycle(ctx, t, s) })
	t.Run("ShortcutConflict", func(t *testing.T) { testShortcutConflict(ctx, t, s) })
	t.Run("ListLinksByUser", func(t *testing.T) { testListLinksByUser(ctx, t, s) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(ctx, t, s) })
}

func testUpsertUser(ctx context.Context, t *testing.T, s Storage) {
	u, err := s.UpsertUser(ctx, User{Subject: "subj-upsert", Name: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if u.ID == "" {
		t.Fatal("Want: assigned ID, got empty")
	}

	// Upserting the same subject must keep the ID stable and take the new
	// profile fields.
	u2, err := s.UpsertUser(ctx, User{Subject: "subj-upsert", Name: "Alice Smith", Email: "asmith@example.com"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if u2.ID != u.ID {
		t.Errorf("Want: stable ID %s, got %s", u.ID, u2.ID)
	}

	got, err := s.GetUserBySubject(ctx, "subj-upsert")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := pretty.Compare(u2, got); diff != "" {
		t.Errorf("Unexpected user (-want +got):\n%s", diff)
	}
}

func testLinkLifecycle(ctx context.Context, t *testing.T, s Storage) {
	u, err := s.UpsertUser(ctx, User{Subject: "subj-lifecycle"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	l, err := s.CreateLink(ctx, Link{URL: "https://example.com/a", Shortcuts: []string{"lc-one", "lc-two"}, CreatedBy: u.ID})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if l.ID == "" || l.CreatedAt.IsZero() {
		t.Fatalf("Want: assigned ID and CreatedAt, got %+v", l)
	}

	got, err := s.GetLink(ctx, l.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	sort.Strings(got.Shortcuts)
	if diff := pretty.Compare([]string{"lc-one", "lc-two"}, got.Shortcuts); diff != "" {
		t.Errorf("Unexpected shortcuts (-want +got):\n%s", diff)
	}

	resolved, err := s.ResolveShortcut(ctx, "lc-two")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if resolved.URL != "https://example.com/a" {
		t.Errorf("Want: https://example.com/a, got %s", resolved.URL)
	}

	if err := s.DeleteLink(ctx, l.ID); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if _, err := s.GetLink(ctx, l.ID); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	// Deleting the link must release its shortcuts.
	if _, err := s.ResolveShortcut(ctx, "lc-one"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testShortcutConflict(ctx context.Context, t *testing.T, s Storage) {
	u, err := s.UpsertUser(ctx, User{Subject: "subj-conflict"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	if _, err := s.CreateLink(ctx, Link{URL: "https://example.com/b", Shortcuts: []string{"sc-taken"}, CreatedBy: u.ID}); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err = s.CreateLink(ctx, Link{URL: "https://example.com/c", Shortcuts: []string{"sc-free", "sc-taken"}, CreatedBy: u.ID})
	if !IsConflictErr(err) {
		t.Fatalf("Want: conflict error, got %v", err)
	}
	// The conflicting create must not have claimed any of its codes.
	if _, err := s.ResolveShortcut(ctx, "sc-free"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testListLinksByUser(ctx context.Context, t *testing.T, s Storage) {
	u1, err := s.UpsertUser(ctx, User{Subject: "subj-list-1"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	u2, err := s.UpsertUser(ctx, User{Subject: "subj-list-2"})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	for _, code := range []string{"ls-a", "ls-b"} {
		if _, err := s.CreateLink(ctx, Link{URL: "https://example.com/" + code, Shortcuts: []string{code}, CreatedBy: u1.ID}); err != nil {
			t.Fatalf("Want: no error, got %v", err)
		}
	}
	if _, err := s.CreateLink(ctx, Link{URL: "https://example.com/other", Shortcuts: []string{"ls-c"}, CreatedBy: u2.ID}); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	links, err := s.ListLinksByUser(ctx, u1.ID)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("Want: 2 links, got %d", len(links))
	}
	for _, l := range links {
		if l.CreatedBy != u1.ID {
			t.Errorf("Want: link owned by %s, got %s", u1.ID, l.CreatedBy)
		}
	}
}

func testNotFound(ctx context.Context, t *testing.T, s Storage) {
	if _, err := s.GetUserBySubject(ctx, "subj-missing"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	if _, err := s.GetLink(ctx, "link-missing"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	if _, err := s.ResolveShortcut(ctx, "code-missing"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
	if err := s.DeleteLink(ctx, "link-missing"); !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}
