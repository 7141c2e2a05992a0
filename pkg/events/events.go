// Package events is the observer board connecting stores and handlers to
// the dataflow layer.
//
// A Bus is built by the session owning a run and handed to every store,
// handler and context of that run. Delivery is synchronous: Publish returns
// after every listener has been notified, in registration order.
package events

import (
	"sync"

	"github.com/opst/vortexflow/pkg/remote"
)

// Source tells who published an Event.
type Source string

const (
	// FromStore events report an action performed by a store.
	FromStore Source = "store"
	// FromHandler events report a stage change of a resource handler.
	FromHandler Source = "handler"
	// FromHook events report a hook applied to a local file.
	FromHook Source = "hook"
)

// Action names a store verb, or a handler stage.
type Action string

const (
	Check  Action = "check"
	Locate Action = "locate"
	Get    Action = "get"
	Put    Action = "put"
	Delete Action = "delete"

	// handler stages
	Load     Action = "load"
	Expected Action = "expected"
	Ghost    Action = "ghost"
)

// StoreInfo identifies the store which acted.
type StoreInfo struct {
	Kind   string `json:"kind"`
	Scheme string `json:"scheme"`
	Netloc string `json:"netloc"`
}

// Hook describes a call of a hook function on a local file.
type Hook struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Event is one notification on the board.
type Event struct {
	Source Source
	Action Action
	Ok     bool

	Store  StoreInfo
	Remote remote.Remote

	// Local is the path of the local container, when known.
	Local string

	// Handler is the id of the resource handler which caused the event.
	Handler string

	// Snapshot is the description of the resource handler, for FromHandler events.
	Snapshot map[string]any

	Hook *Hook
}

type Listener interface {
	Notify(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) Notify(ev Event) { f(ev) }

type subscription struct {
	listener Listener
}

type Bus struct {
	mu   sync.Mutex
	subs []*subscription
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers l. The returned function unregisters it.
func (b *Bus) Subscribe(l Listener) func() {
	s := &subscription{listener: l}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)

	once := sync.Once{}
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, x := range b.subs {
				if x == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish notifies listeners registered at the time of the call.
//
// Publishing on a nil Bus does nothing.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := append([]*subscription{}, b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		s.listener.Notify(ev)
	}
}

// Len returns the number of listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
