package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sharelink/sharelink/storage"
)

func TestStorage(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "sharelink.db"), 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}()

	storage.Test(context.Background(), t, s)
}
