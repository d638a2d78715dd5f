package bolt

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/sharelink/sharelink/storage"
)

var (
	usersBucket     = []byte("users")
	linksBucket     = []byte("links")
	shortcutsBucket = []byte("shortcuts")
)

var cborHandle = &codec.CborHandle{}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}

type errConflict struct {
	error
}

func (*errConflict) ConflictErr() {}

// Storage is a single-file implementation of storage.Storage backed by bbolt,
// suitable for single-process deployments.
type Storage struct {
	db *bolt.DB
}

func New(path string, mode os.FileMode) (*Storage, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{usersBucket, linksBucket, shortcutsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

func encode(v interface{}) ([]byte, error) {
	var b []byte
	err := codec.NewEncoderBytes(&b, cborHandle).Encode(v)
	return b, err
}

func decode(data []byte, into interface{}) error {
	return codec.NewDecoderBytes(data, cborHandle).Decode(into)
}

func (s *Storage) UpsertUser(_ context.Context, u storage.User) (storage.User, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)

		if existing := b.Get([]byte(u.Subject)); existing != nil {
			var prev storage.User
			if err := decode(existing, &prev); err != nil {
				return err
			}
			u.ID = prev.ID
		} else {
			u.ID = storage.NewID()
		}

		data, err := encode(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.Subject), data)
	})
	if err != nil {
		return storage.User{}, err
	}
	return u, nil
}

func (s *Storage) GetUserBySubject(_ context.Context, subject string) (storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(subject))
		if data == nil {
			return &errNotFound{fmt.Errorf("user %s not found", subject)}
		}
		return decode(data, &u)
	})
	return u, err
}

func (s *Storage) CreateLink(_ context.Context, l storage.Link) (storage.Link, error) {
	l.ID = storage.NewID()
	l.CreatedAt = time.Now().UTC()

	err := s.db.Update(func(tx *bolt.Tx) error {
		links := tx.Bucket(linksBucket)
		shortcuts := tx.Bucket(shortcutsBucket)

		for _, code := range l.Shortcuts {
			if shortcuts.Get([]byte(code)) != nil {
				return &errConflict{fmt.Errorf("shortcut %s already exists", code)}
			}
		}

		data, err := encode(l)
		if err != nil {
			return err
		}
		if err := links.Put([]byte(l.ID), data); err != nil {
			return err
		}
		for _, code := range l.Shortcuts {
			if err := shortcuts.Put([]byte(code), []byte(l.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storage.Link{}, err
	}
	return l, nil
}

func (s *Storage) GetLink(_ context.Context, id string) (storage.Link, error) {
	var l storage.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		return getLink(tx, id, &l)
	})
	return l, err
}

func getLink(tx *bolt.Tx, id string, into *storage.Link) error {
	data := tx.Bucket(linksBucket).Get([]byte(id))
	if data == nil {
		return &errNotFound{fmt.Errorf("link %s not found", id)}
	}
	return decode(data, into)
}

func (s *Storage) ListLinksByUser(_ context.Context, userID string) ([]storage.Link, error) {
	var links []storage.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(linksBucket).ForEach(func(_, data []byte) error {
			var l storage.Link
			if err := decode(data, &l); err != nil {
				return err
			}
			if l.CreatedBy == userID {
				links = append(links, l)
			}
			return nil
		})
	})
	return links, err
}

func (s *Storage) DeleteLink(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var l storage.Link
		if err := getLink(tx, id, &l); err != nil {
			return err
		}
		shortcuts := tx.Bucket(shortcutsBucket)
		for _, code := range l.Shortcuts {
			if err := shortcuts.Delete([]byte(code)); err != nil {
				return err
			}
		}
		return tx.Bucket(linksBucket).Delete([]byte(id))
	})
}

func (s *Storage) ResolveShortcut(_ context.Context, code string) (storage.Link, error) {
	var l storage.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(shortcutsBucket).Get([]byte(code))
		if id == nil {
			return &errNotFound{fmt.Errorf("shortcut %s not found", code)}
		}
		return getLink(tx, string(id), &l)
	})
	return l, err
}

func (s *Storage) Close() error {
	return s.db.Close()
}
