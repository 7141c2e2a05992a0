// Command vtxarchived serves a cache over HTTP as an archive host.
//
// The daemon restarts itself in-process when its configuration file changes.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opst/vortexflow/pkg/archivehost"
	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/cache"
	"github.com/opst/vortexflow/pkg/configs"
	"github.com/opst/vortexflow/pkg/utils/filewatch"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config-path", "", "archive host config path")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		restart, err := serve(ctx, *configPath, logger)
		if err != nil {
			logger.Fatalf("[ERROR] %s", err)
		}
		if !restart {
			return
		}
		logger.Println("configuration is updated. restarting.")
	}
}

// serve runs the host until ctx is done or the configuration changes.
//
// restart reports the latter.
func serve(ctx context.Context, configPath string, logger *log.Logger) (restart bool, err error) {
	conf, err := configs.LoadArchiveHost(configPath)
	if err != nil {
		return false, err
	}

	storage, err := cache.New(
		cache.Config{
			Kind:     conf.Storage.Kind,
			RootDir:  conf.Storage.RootDir,
			HeadDir:  conf.Storage.HeadDir,
			ReadOnly: conf.ReadOnly,
		},
		backends.OSEnviron{},
		backends.WithLogger(logger),
	)
	if err != nil {
		return false, err
	}
	logger.Printf("serving %s on %s", storage, conf.Listen)

	options := []archivehost.Option{
		archivehost.WithLogger(logger),
		archivehost.ReadOnly(conf.ReadOnly),
		archivehost.WithTempDir(conf.TempDir),
	}
	if len(conf.Secret) != 0 {
		options = append(options, archivehost.WithSecret(conf.Secret))
	}
	e := archivehost.New(storage, options...).Echo()

	watched, cancel, err := filewatch.UntilModifyContext(ctx, configPath)
	if err != nil {
		return false, err
	}
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- e.Start(conf.Listen)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return false, err
	case <-watched.Done():
	}

	graceful, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := e.Shutdown(graceful); err != nil {
		logger.Printf("[WARN] error on shutdown: %s", err)
	}
	<-served

	// the parent is done: quit. Otherwise, the configuration has changed.
	return ctx.Err() == nil, nil
}
