package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

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

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

var migrations = []string{
	`create table users (
		id text primary key,
		subject text not null unique,
		name text not null default '',
		email text not null default ''
	);`,
	`create table links (
		id text primary key,
		url text not null,
		created_by text not null references users (id),
		created_at timestamptz not null
	);`,
	`create table shortcuts (
		code text primary key,
		link_id text not null references links (id) on delete cascade
	);`,
}

// Storage is a Postgres implementation of storage.Storage.
type Storage struct {
	db *sql.DB
}

func New(ctx context.Context, db *sql.DB) (*Storage, error) {
	s := &Storage{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `insert into migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Storage) UpsertUser(ctx context.Context, u storage.User) (storage.User, error) {
	u.ID = storage.NewID()
	if err := s.db.QueryRowContext(
		ctx,
		`insert into users (id, subject, name, email)
		values ($1, $2, $3, $4)
		on conflict (subject)
		do update set name=excluded.name, email=excluded.email
		returning id`,
		u.ID, u.Subject, u.Name, u.Email,
	).Scan(&u.ID); err != nil {
		return storage.User{}, err
	}
	return u, nil
}

func (s *Storage) GetUserBySubject(ctx context.Context, subject string) (storage.User, error) {
	var u storage.User
	if err := s.db.QueryRowContext(
		ctx,
		`select id, subject, name, email from users where subject=$1`,
		subject,
	).Scan(&u.ID, &u.Subject, &u.Name, &u.Email); err != nil {
		if err == sql.ErrNoRows {
			return storage.User{}, &errNotFound{err}
		}
		return storage.User{}, err
	}
	return u, nil
}

func (s *Storage) CreateLink(ctx context.Context, l storage.Link) (storage.Link, error) {
	l.ID = storage.NewID()
	l.CreatedAt = time.Now().UTC()

	err := s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`insert into links (id, url, created_by, created_at) values ($1, $2, $3, $4)`,
			l.ID, l.URL, l.CreatedBy, l.CreatedAt,
		); err != nil {
			return err
		}
		for _, code := range l.Shortcuts {
			if _, err := tx.ExecContext(
				ctx,
				`insert into shortcuts (code, link_id) values ($1, $2)`,
				code, l.ID,
			); err != nil {
				if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
					return &errConflict{fmt.Errorf("shortcut %s already exists", code)}
				}
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

func (s *Storage) GetLink(ctx context.Context, id string) (storage.Link, error) {
	links, err := s.queryLinks(ctx, `l.id=$1`, id)
	if err != nil {
		return storage.Link{}, err
	}
	if len(links) == 0 {
		return storage.Link{}, &errNotFound{fmt.Errorf("link %s not found", id)}
	}
	return links[0], nil
}

func (s *Storage) ListLinksByUser(ctx context.Context, userID string) ([]storage.Link, error) {
	return s.queryLinks(ctx, `l.created_by=$1`, userID)
}

func (s *Storage) queryLinks(ctx context.Context, where string, arg interface{}) ([]storage.Link, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select l.id, l.url, l.created_by, l.created_at,
			coalesce(array_agg(s.code) filter (where s.code is not null), '{}')
		from links l
		left join shortcuts s on s.link_id = l.id
		where `+where+`
		group by l.id
		order by l.created_at`,
		arg,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []storage.Link
	for rows.Next() {
		var l storage.Link
		if err := rows.Scan(&l.ID, &l.URL, &l.CreatedBy, &l.CreatedAt, pq.Array(&l.Shortcuts)); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Storage) DeleteLink(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from links where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &errNotFound{fmt.Errorf("link %s not found", id)}
	}
	return nil
}

func (s *Storage) ResolveShortcut(ctx context.Context, code string) (storage.Link, error) {
	var linkID string
	if err := s.db.QueryRowContext(
		ctx,
		`select link_id from shortcuts where code=$1`,
		code,
	).Scan(&linkID); err != nil {
		if err == sql.ErrNoRows {
			return storage.Link{}, &errNotFound{fmt.Errorf("shortcut %s not found", code)}
		}
		return storage.Link{}, err
	}
	return s.GetLink(ctx, linkID)
}

func (s *Storage) Close() error {
	return s.db.Close()
}
