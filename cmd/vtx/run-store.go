package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/urfave/cli"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/history/leveldb"
	"github.com/opst/vortexflow/pkg/configs"
	pghistory "github.com/opst/vortexflow/pkg/db/postgres/history"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/remote"
	"github.com/opst/vortexflow/pkg/stores"
)

// session is a registry with the history sinks it writes into.
type session struct {
	registry *stores.Registry
	closers  []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; 0 <= i; i-- {
		s.closers[i]()
	}
}

func openSession(ctx context.Context, m *metadata) (*session, error) {
	var conf *configs.Generic
	if m.config != "" {
		c, err := configs.Load(m.config)
		if err != nil {
			return nil, err
		}
		conf = c
	}

	s := &session{}
	options := []stores.RegistryOption{stores.WithRegistryLogger(m.logger)}

	if m.verbose {
		bus := events.New()
		bus.Subscribe(events.ListenerFunc(func(ev events.Event) {
			printEvent(m.e, ev)
		}))
		options = append(options, stores.WithRegistryBus(bus))
	}

	sinks := []backends.HistoryOption{backends.WithHistoryLogger(m.logger)}
	if m.historyDB != "" {
		sink, err := leveldb.Open(m.historyDB)
		if err != nil {
			return nil, fmt.Errorf("cannot open history journal %s: %w", m.historyDB, err)
		}
		s.closers = append(s.closers, func() { sink.Close() })
		sinks = append(sinks, backends.WithSink(sink))
	}
	if m.historyDSN != "" {
		pool, err := pghistory.Connect(ctx, m.historyDSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		sink := pghistory.New(pool)
		if err := sink.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		sinks = append(sinks, backends.WithSink(sink))
	}
	if 1 < len(sinks) {
		options = append(options, stores.WithBackendHistory(backends.NewHistory(sinks...)))
	}

	s.registry = stores.NewRegistry(conf, options...)
	return s, nil
}

func printEvent(w io.Writer, ev events.Event) {
	status := "ok"
	if !ev.Ok {
		status = "failed"
	}
	fmt.Fprintf(w, "[%s] %s %s %s (%s)\n", ev.Store.Netloc, ev.Action, ev.Remote.URI(), status, ev.Store.Kind)
}

func transferOptions(c *cli.Context) (backends.TransferOptions, error) {
	opts := backends.TransferOptions{
		Fmt:        c.String("fmt"),
		TarExtract: c.Bool("tarextract"),
		Silent:     c.Bool("silent"),
		Promise:    c.Bool("promise"),
	}
	switch intent := backends.Intent(c.String("intent")); intent {
	case "":
		opts.Intent = backends.IntentIn
	case backends.IntentIn, backends.IntentOut, backends.IntentInOut:
		opts.Intent = intent
	default:
		return opts, fmt.Errorf("unknown intent: %s", intent)
	}
	return opts, nil
}

// verb runs one store action on the store serving uri.
func verb(c *cli.Context, nargs int, uriAt int, f func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error) error {
	if err := checkArgs(c, nargs); err != nil {
		return err
	}
	opts, err := transferOptions(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	m := meta(c)
	sess, err := openSession(ctx, m)
	if err != nil {
		return err
	}
	defer sess.Close()

	s, r, err := sess.registry.Open(c.Args().Get(uriAt))
	if err != nil {
		return err
	}
	return f(ctx, s, r, opts)
}

func runStores(c *cli.Context) error {
	m := meta(c)
	sess, err := openSession(context.Background(), m)
	if err != nil {
		return err
	}
	defer sess.Close()

	netlocs := sess.registry.Netlocs()
	sort.Strings(netlocs)
	for _, n := range netlocs {
		s, err := sess.registry.Resolve(n)
		if err != nil {
			fmt.Fprintf(m.w, "%s: %s\n", n, err)
			continue
		}
		fmt.Fprintln(m.w, stores.Describe(s))
	}
	return nil
}

func runCheck(c *cli.Context) error {
	return verb(c, 1, 0, func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error {
		st, err := s.Check(ctx, r, opts)
		if err != nil {
			return err
		}
		m := meta(c)
		if st == nil {
			return fmt.Errorf("%s is missing", r.URI())
		}
		kind := "file"
		if st.IsDir {
			kind = "directory"
		}
		fmt.Fprintf(m.w, "%s: %s, %d bytes, modified %s\n", st.Path, kind, st.Size, st.ModTime.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	})
}

func runLocate(c *cli.Context) error {
	return verb(c, 1, 0, func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error {
		loc, err := s.Locate(ctx, r, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(meta(c).w, loc)
		return nil
	})
}

func runGet(c *cli.Context) error {
	return verb(c, 2, 0, func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error {
		ok, err := s.Get(ctx, r, c.Args().Get(1), opts)
		return outcome(ok, err, "get", r)
	})
}

func runPut(c *cli.Context) error {
	return verb(c, 2, 1, func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error {
		ok, err := s.Put(ctx, c.Args().Get(0), r, opts)
		return outcome(ok, err, "put", r)
	})
}

func runDelete(c *cli.Context) error {
	return verb(c, 1, 0, func(ctx context.Context, s stores.Store, r remote.Remote, opts backends.TransferOptions) error {
		ok, err := s.Delete(ctx, r, opts)
		return outcome(ok, err, "delete", r)
	})
}

func outcome(ok bool, err error, action string, r remote.Remote) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s of %s failed", action, r.URI())
	}
	return nil
}
