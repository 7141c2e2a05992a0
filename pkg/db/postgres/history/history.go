// Package history stores backend history entries in PostgreSQL, so that
// the activity of many jobs on shared caches and archives can be queried
// at one place.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
)

// something sending query with SQL.
//
// this is extracted interface from `pgxpool.Pool`, `pgxpool.Conn` and `pgx.Tx`.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const Schema = `
CREATE TABLE IF NOT EXISTS "backend_history" (
	"id" uuid PRIMARY KEY,
	"recorded_at" timestamp with time zone NOT NULL,
	"backend" varchar NOT NULL,
	"action" varchar NOT NULL,
	"item" varchar NOT NULL,
	"local" varchar NOT NULL DEFAULT '',
	"ok" boolean NOT NULL,
	"entry" jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS "backend_history_item" ON "backend_history" ("item");
`

type Sink struct {
	q Queryer
}

var _ backends.Sink = &Sink{}

func New(q Queryer) *Sink {
	return &Sink{q: q}
}

// Connect opens a connection pool to the database at dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, xe.Configurationf("cannot connect history database: %s", err)
	}
	return pool, nil
}

// Migrate creates the table if missing.
func (s *Sink) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, Schema)
	return xe.Wrap(err)
}

// Record inserts e. Recording the same entry twice is not an error.
func (s *Sink) Record(ctx context.Context, e backends.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	entry := pgtype.JSONB{Bytes: raw, Status: pgtype.Present}

	_, err = s.q.Exec(
		ctx,
		`
		insert into "backend_history"
			("id", "recorded_at", "backend", "action", "item", "local", "ok", "entry")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		e.ID.String(), e.Time, e.Backend, e.Action, e.Item, e.Local, e.Ok, &entry,
	)
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation {
		return nil
	}
	return xe.Wrap(err)
}

// Grep returns entries about item recorded at or after since, oldest first.
func (s *Sink) Grep(ctx context.Context, item string, since time.Time) ([]backends.Entry, error) {
	rows, err := s.q.Query(
		ctx,
		`
		select "id", "entry" from "backend_history"
		where "item" = $1 and $2 <= "recorded_at"
		order by "recorded_at", "id"
		`,
		item, since,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	entries := []backends.Entry{}
	for rows.Next() {
		var id string
		entry := pgtype.JSONB{}
		if err := rows.Scan(&id, &entry); err != nil {
			return nil, xe.Wrap(err)
		}
		e := backends.Entry{}
		if err := json.Unmarshal(entry.Bytes, &e); err != nil {
			return nil, xe.Wrap(err)
		}
		if e.ID == uuid.Nil {
			if e.ID, err = uuid.Parse(id); err != nil {
				return nil, xe.Wrap(err)
			}
		}
		entries = append(entries, e)
	}
	return entries, xe.Wrap(rows.Err())
}
