// Command rsmnode runs a single RSM driver node: it wires BadgerDB
// persistence, an in-process sequence allocator, and a NATS-based
// coordinator behind rsm.Driver, applying an example StateTransfer
// that concatenates every applied submission's content.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/coordinator"
	"github.com/parliament/rsm-core/pkg/logger"
	"github.com/parliament/rsm-core/pkg/sequence"
	"github.com/parliament/rsm-core/pkg/storage"
	"github.com/parliament/rsm-core/rsm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir  = flag.String("data-dir", "data", "directory for durable RSM state")
		natsURL  = flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
		group    = flag.String("group", "default", "coordinator group id, shared by every node applying the same stream")
		env      = flag.String("env", "prod", "log environment: prod, dev, staging")
		inMemory = flag.Bool("in-memory", false, "use an in-memory store instead of data-dir, for local trials")
	)
	flag.Parse()

	log := logger.NewLogger(parseEnv(*env), *env == "dev")

	var store api.Persistence
	if *inMemory {
		s, err := storage.OpenInMemory(log)
		if err != nil {
			return fmt.Errorf("rsmnode: open in-memory storage: %w", err)
		}
		store = s
	} else {
		s, err := storage.Open(*dataDir, log)
		if err != nil {
			return fmt.Errorf("rsmnode: open storage at %s: %w", *dataDir, err)
		}
		defer s.Close()
		store = s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordCfg := coordinator.DefaultConfig()
	coordCfg.URL = *natsURL
	coordCfg.Group = *group
	coord, err := coordinator.New(ctx, coordCfg, log.With(slog.String("component", "coordinator")))
	if err != nil {
		return fmt.Errorf("rsmnode: start coordinator: %w", err)
	}
	defer coord.Close()

	driver, err := rsm.NewBuilder(store, sequence.New(0), coord).
		WithLogger(log.With(slog.String("component", "rsm"))).
		Build()
	if err != nil {
		return fmt.Errorf("rsmnode: build driver: %w", err)
	}

	if err := driver.Start(newConcatTransfer()); err != nil {
		return fmt.Errorf("rsmnode: start driver: %w", err)
	}

	log.Info("rsmnode: started", slog.String("group", *group), slog.Int64("done", driver.Done()))

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Info("rsmnode: shutting down")
	return driver.Stop()
}

func parseEnv(s string) logger.Environment {
	switch s {
	case "dev":
		return logger.Dev
	case "staging":
		return logger.Staging
	default:
		return logger.Prod
	}
}

// concatTransfer is a minimal demonstration StateTransfer: it folds
// every applied submission's content into one growing buffer, in
// application order. The apply loop can invoke Transform more than
// once for the same id within one process, for example when advancing
// the durable done pointer fails after Transform succeeded (see
// rsm.Driver.applyDecided), so applied tracks ids already folded in and
// skips them on redrive instead of appending again. Both the buffer
// and applied live in memory only and start empty after a restart.
type concatTransfer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	applied map[int64]struct{}
}

func newConcatTransfer() *concatTransfer {
	return &concatTransfer{applied: make(map[int64]struct{})}
}

func (t *concatTransfer) Transform(in *api.Input) (api.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.applied[in.ID]; !seen {
		t.applied[in.ID] = struct{}{}
		t.buf.Write(in.Content)
		t.buf.WriteByte('\n')
	}
	return append([]byte(nil), t.buf.Bytes()...), nil
}
