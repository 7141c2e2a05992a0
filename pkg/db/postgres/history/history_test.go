package history_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/db/postgres/history"
)

type queryerMock struct {
	sqls [][]any
	err  error
}

func (q *queryerMock) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	q.sqls = append(q.sqls, append([]any{sql}, args...))
	if q.err != nil {
		return nil, q.err
	}
	return pgconn.CommandTag("INSERT 0 1"), nil
}

func (q *queryerMock) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func TestSink_Record(t *testing.T) {
	entry := backends.Entry{
		ID:      uuid.MustParse("6b1d4b6c-4b4e-4b36-9a26-7a0d2d7d8f01"),
		Time:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Backend: "archive",
		Action:  "insert",
		Item:    "vortex/arpege/grid",
		Local:   "/work/grid",
		Ok:      true,
	}

	t.Run("it inserts the entry", func(t *testing.T) {
		q := &queryerMock{}
		if err := history.New(q).Record(context.Background(), entry); err != nil {
			t.Fatal(err)
		}
		if len(q.sqls) != 1 {
			t.Fatalf("queries: %v", q.sqls)
		}
		args := q.sqls[0]
		if !strings.Contains(args[0].(string), `insert into "backend_history"`) {
			t.Errorf("sql: %s", args[0])
		}
		if args[1] != entry.ID.String() || args[5] != entry.Item || args[7] != true {
			t.Errorf("args: %v", args[1:])
		}
		jsonb := args[8].(*pgtype.JSONB)
		if jsonb.Status != pgtype.Present || !strings.Contains(string(jsonb.Bytes), `"item":"vortex/arpege/grid"`) {
			t.Errorf("entry column: %s", jsonb.Bytes)
		}
	})

	t.Run("a duplicated entry is fine", func(t *testing.T) {
		q := &queryerMock{err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}}
		if err := history.New(q).Record(context.Background(), entry); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("other errors are reported", func(t *testing.T) {
		q := &queryerMock{err: &pgconn.PgError{Code: pgerrcode.UndefinedTable}}
		err := history.New(q).Record(context.Background(), entry)
		var pgerr *pgconn.PgError
		if !errors.As(err, &pgerr) || pgerr.Code != pgerrcode.UndefinedTable {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestSink_Migrate(t *testing.T) {
	q := &queryerMock{}
	if err := history.New(q).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(q.sqls) != 1 || q.sqls[0][0] != history.Schema {
		t.Errorf("queries: %v", q.sqls)
	}
}
