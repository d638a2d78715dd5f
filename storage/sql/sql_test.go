package sql

import (
	"context"
	"database/sql"
	"flag"
	"testing"

	"github.com/sharelink/sharelink/storage"
)

var dbURL = flag.String("db-url", "", "Database URL")

func TestStorage(t *testing.T) {
	if *dbURL == "" {
		t.Skip("-db-url not set, skipping")
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{"migrations", "shortcuts", "links", "users"} {
		if _, err := db.Exec(`drop table if exists ` + table); err != nil {
			t.Fatal(err)
		}
	}

	s, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}()

	storage.Test(ctx, t, s)
}
