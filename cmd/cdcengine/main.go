// Command cdcengine runs the CDC data-sync engine control plane: it seals
// the plugin registry, opens the configured config store, bootstraps
// persisted flows, and serves the HTTP control plane until signalled to
// shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warpstreamlabs/cdcengine/internal/api"
	"github.com/warpstreamlabs/cdcengine/internal/config"
	"github.com/warpstreamlabs/cdcengine/internal/configstore"
	"github.com/warpstreamlabs/cdcengine/internal/connector/kafka"
	"github.com/warpstreamlabs/cdcengine/internal/connector/nats"
	"github.com/warpstreamlabs/cdcengine/internal/destination/elasticsearch"
	"github.com/warpstreamlabs/cdcengine/internal/destination/mysql"
	"github.com/warpstreamlabs/cdcengine/internal/destination/postgres"
	"github.com/warpstreamlabs/cdcengine/internal/flow"
	"github.com/warpstreamlabs/cdcengine/internal/logging"
	"github.com/warpstreamlabs/cdcengine/internal/orchestrator"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

// Exit codes, pinned by spec §6: 0 clean shutdown, 1 configuration error at
// bootstrap (including config-store open and flow bootstrap failures), 2
// plugin registration error, 64 invalid command-line arguments.
// exitServerError is not pinned by the contract; it covers a runtime HTTP
// server failure after bootstrap completed successfully.
const (
	exitOK          = 0
	exitConfigError = 1
	exitPluginError = 2
	exitServerError = 70
	exitInvalidArgs = 64
)

func main() {
	os.Exit(run())
}

// registerPlugins adds every built-in connector and destination kind to r
// and seals it. A registration conflict (two kinds claiming the same name)
// is returned as a plain error rather than a panic, so main can map it to
// the spec's exit code 2 instead of crashing the process uncontrolled.
func registerPlugins(r *registry.Registry) error {
	for _, reg := range []func(*registry.Registry) error{
		nats.Register,
		kafka.Register,
		postgres.Register,
		mysql.Register,
		elasticsearch.Register,
	} {
		if err := reg(r); err != nil {
			return err
		}
	}
	r.Seal()
	return nil
}

func run() int {
	if len(os.Args) > 1 {
		fmt.Fprintf(os.Stderr, "cdcengine takes no command-line arguments, got: %v\n", os.Args[1:])
		return exitInvalidArgs
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}

	log := logging.New(os.Stdout, cfg.LogLevel)

	if err := registerPlugins(registry.Global); err != nil {
		log.Error().Err(err).Msg("failed to register plugin kinds")
		return exitPluginError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open config store")
		return exitConfigError
	}

	orch := orchestrator.New(registry.Global, store, log, func(fr flow.FailureRecord) {
		log.Error().
			Str("flow", fr.FlowName).
			Str("destination", fr.DestinationName).
			Int("events", len(fr.EventIDs)).
			Err(fr.Err).
			Msg("destination write failed after retries exhausted")
	})

	if err := orch.Bootstrap(ctx); err != nil {
		log.Error().Err(err).Msg("failed to bootstrap flows from config store")
		return exitConfigError
	}

	srv := api.New(api.Config{
		Addr:        fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		CORSEnabled: cfg.CORSEnabled,
	}, orch, store, registry.Global, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("control plane server failed")
			return exitServerError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during control plane shutdown")
	}
	return exitOK
}

func openStore(ctx context.Context, cfg config.Config) (configstore.Store, error) {
	switch cfg.ConfigStorage {
	case config.StoragePostgres:
		return configstore.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return configstore.NewFileStore(cfg.ConfigDir)
	}
}
