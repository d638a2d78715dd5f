package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sharelink/sharelink/storage"
)

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}

type errConflict struct {
	error
}

func (*errConflict) ConflictErr() {}

// Storage is an in-memory implementation of storage.Storage. It should only
// be used for testing or development. All data is lost when the process ends.
type Storage struct {
	sync.Mutex
	users     map[string]storage.User // keyed by subject
	links     map[string]storage.Link // keyed by link ID
	shortcuts map[string]string       // code -> link ID
}

func New() *Storage {
	return &Storage{
		users:     make(map[string]storage.User),
		links:     make(map[string]storage.Link),
		shortcuts: make(map[string]string),
	}
}

func (s *Storage) UpsertUser(_ context.Context, u storage.User) (storage.User, error) {
	s.Lock()
	defer s.Unlock()

	if existing, ok := s.users[u.Subject]; ok {
		u.ID = existing.ID
	} else {
		u.ID = storage.NewID()
	}
	s.users[u.Subject] = u
	return u, nil
}

func (s *Storage) GetUserBySubject(_ context.Context, subject string) (storage.User, error) {
	s.Lock()
	defer s.Unlock()

	u, ok := s.users[subject]
	if !ok {
		return storage.User{}, &errNotFound{errors.New("user not found")}
	}
	return u, nil
}

func (s *Storage) CreateLink(_ context.Context, l storage.Link) (storage.Link, error) {
	s.Lock()
	defer s.Unlock()

	for _, code := range l.Shortcuts {
		if _, taken := s.shortcuts[code]; taken {
			return storage.Link{}, &errConflict{fmt.Errorf("shortcut %s already exists", code)}
		}
	}

	l.ID = storage.NewID()
	l.CreatedAt = time.Now().UTC()
	s.links[l.ID] = l
	for _, code := range l.Shortcuts {
		s.shortcuts[code] = l.ID
	}
	return l, nil
}

func (s *Storage) GetLink(_ context.Context, id string) (storage.Link, error) {
	s.Lock()
	defer s.Unlock()

	l, ok := s.links[id]
	if !ok {
		return storage.Link{}, &errNotFound{errors.New("link not found")}
	}
	return l, nil
}

func (s *Storage) ListLinksByUser(_ context.Context, userID string) ([]storage.Link, error) {
	s.Lock()
	defer s.Unlock()

	var links []storage.Link
	for _, l := range s.links {
		if l.CreatedBy == userID {
			links = append(links, l)
		}
	}
	return links, nil
}

func (s *Storage) DeleteLink(_ context.Context, id string) error {
	s.Lock()
	defer s.Unlock()

	l, ok := s.links[id]
	if !ok {
		return &errNotFound{errors.New("link not found")}
	}
	for _, code := range l.Shortcuts {
		delete(s.shortcuts, code)
	}
	delete(s.links, id)
	return nil
}

func (s *Storage) ResolveShortcut(_ context.Context, code string) (storage.Link, error) {
	s.Lock()
	defer s.Unlock()

	id, ok := s.shortcuts[code]
	if !ok {
		return storage.Link{}, &errNotFound{fmt.Errorf("shortcut %s not found", code)}
	}
	return s.links[id], nil
}

func (s *Storage) Close() error {
	return nil
}
