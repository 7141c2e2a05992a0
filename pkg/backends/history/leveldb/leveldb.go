// Package leveldb journals backend history entries into a LevelDB database.
package leveldb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/opst/vortexflow/pkg/backends"
)

const keyPrefix = "history/"

// keys sort by time, then by id.
const keyTimeLayout = "20060102T150405.000000000Z"

type Sink struct {
	db   *leveldb.DB
	sync bool
}

var _ backends.Sink = &Sink{}

// Open opens (or creates) the journal at path.
func Open(path string) (*Sink, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return New(db, true), nil
}

// New journals into db. With sync, each write is flushed to disk.
func New(db *leveldb.DB, sync bool) *Sink {
	return &Sink{db: db, sync: sync}
}

func key(e backends.Entry) []byte {
	return []byte(keyPrefix + e.Time.UTC().Format(keyTimeLayout) + "/" + e.ID.String())
}

func (s *Sink) Record(ctx context.Context, e backends.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Put(key(e), value, &opt.WriteOptions{Sync: s.sync})
}

// Since returns entries recorded at or after t, oldest first.
func (s *Sink) Since(t time.Time) ([]backends.Entry, error) {
	rng := util.BytesPrefix([]byte(keyPrefix))
	rng.Start = []byte(keyPrefix + t.UTC().Format(keyTimeLayout))

	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	entries := []backends.Entry{}
	for iter.Next() {
		e := backends.Entry{}
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, iter.Error()
}

// All returns every entry, oldest first.
func (s *Sink) All() ([]backends.Entry, error) {
	return s.Since(time.Time{})
}

func (s *Sink) Close() error {
	return s.db.Close()
}
