package backends

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opst/vortexflow/pkg/logger"
)

// Entry is a record of a mutating backend call.
type Entry struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	Backend string    `json:"backend"`
	Action  string    `json:"action"`
	Item    string    `json:"item"`
	Local   string    `json:"local,omitempty"`
	Ok      bool      `json:"ok"`
	Info    string    `json:"info,omitempty"`
}

// Sink persists history entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// History keeps entries in memory and forwards them to sinks.
//
// A failure of a sink is logged and does not fail the backend call.
type History struct {
	mu      sync.Mutex
	entries []Entry
	sinks   []Sink
	logger  *log.Logger
	clock   func() time.Time
}

type HistoryOption func(*History) *History

func WithSink(s Sink) HistoryOption {
	return func(h *History) *History {
		h.sinks = append(h.sinks, s)
		return h
	}
}

func WithHistoryLogger(l *log.Logger) HistoryOption {
	return func(h *History) *History {
		h.logger = logger.Or(l)
		return h
	}
}

// WithClock replaces the time source stamping entries.
func WithClock(clock func() time.Time) HistoryOption {
	return func(h *History) *History {
		h.clock = clock
		return h
	}
}

func NewHistory(options ...HistoryOption) *History {
	h := &History{logger: logger.Default(), clock: time.Now}
	for _, opt := range options {
		h = opt(h)
	}
	return h
}

// Append stamps e with an id and a time (when missing), keeps it and
// forwards it to sinks.
func (h *History) Append(ctx context.Context, e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Time.IsZero() {
		e.Time = h.clock()
	}

	h.mu.Lock()
	h.entries = append(h.entries, e)
	sinks := append([]Sink{}, h.sinks...)
	h.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(ctx, e); err != nil {
			h.logger.Printf("[WARN] history entry %s is not persisted: %s", e.ID, err)
		}
	}
	return e
}

// Entries returns a copy of the recorded entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry{}, h.entries...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Grep returns entries about item.
func (h *History) Grep(item string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	found := []Entry{}
	for _, e := range h.entries {
		if e.Item == item {
			found = append(found, e)
		}
	}
	return found
}
