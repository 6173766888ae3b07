package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/rowwatch/internal/api"
	"github.com/user/rowwatch/internal/config"
	"github.com/user/rowwatch/internal/observability"
	"github.com/user/rowwatch/internal/report"
	"github.com/user/rowwatch/internal/sse"
	"github.com/user/rowwatch/internal/watch"
	"github.com/user/rowwatch/pkg/poller"
	ssesink "github.com/user/rowwatch/pkg/sink/sse"
	"github.com/user/rowwatch/pkg/sqlutil"
)

var errAutoStopped = errors.New("poller stopped after exhausting its retry budget")

func init() {
	runCmd.Flags().Bool("api", false, "serve the HTTP API")
	runCmd.Flags().String("api-addr", "", "HTTP API listen address")
	runCmd.Flags().Bool("watch", false, "force a cycle when the store file changes")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the table and emit events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("api") {
			cfg.API.Enabled, _ = cmd.Flags().GetBool("api")
		}
		if cmd.Flags().Changed("api-addr") {
			cfg.API.Addr, _ = cmd.Flags().GetString("api-addr")
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch.Enabled, _ = cmd.Flags().GetBool("watch")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	shutdownOTLP, err := observability.InitOTLP(ctx, cfg.OTLP)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTLP(sctx); err != nil {
			logger.Warn("OTLP shutdown failed", "error", err)
		}
	}()

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	hub := sse.GetHub()
	sink, ready, err := buildSinks(cfg, hub, ssesink.DefaultStream, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Closing sinks failed", "error", err)
		}
	}()

	p := poller.New(gw, sink, poller.Config{
		Table:          cfg.Store.Table,
		MaxRetries:     cfg.Poller.MaxRetries,
		BatchSize:      cfg.Poller.BatchSize,
		CycleTimeout:   cfg.Poller.CycleTimeout(),
		HeartbeatEvery: cfg.Poller.HeartbeatEvery,
	})
	p.SetLogger(logger.With("table", cfg.Store.Table))

	if err := p.Start(ctx, cfg.Poller.Interval()); err != nil {
		return err
	}
	defer func() {
		_ = p.Stop()
		select {
		case <-p.Done():
		case <-time.After(cfg.Poller.CycleTimeout() + 5*time.Second):
			logger.Warn("Poll cycle still in flight at shutdown", "table", cfg.Store.Table)
		}
	}()

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.NewServer(ctx, p, hub, api.Options{
			Interval: cfg.Poller.Interval(),
			Stream:   ssesink.DefaultStream,
			Ready:    ready,
		})
		srv.SetLogger(logger)
		go func() { apiErr <- srv.Run(ctx, cfg.API.Addr) }()
	}

	if cfg.Watch.Enabled {
		path := cfg.Watch.Path
		if path == "" && sqlutil.Normalize(cfg.Store.Driver) == sqlutil.DriverSQLite {
			path = cfg.Store.DSN
		}
		w, err := watch.New(path, time.Duration(cfg.Watch.DebounceMS)*time.Millisecond, p.ForceCycle)
		if err != nil {
			return err
		}
		w.SetLogger(logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("File watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Report.Schedule != "" {
		r, err := report.New(cfg.Report.Schedule, p.Status, logger)
		if err != nil {
			return err
		}
		if err := r.Start(); err != nil {
			return err
		}
		defer r.Stop()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-apiErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-p.Done():
		st := p.Status()
		if st.StoppedBy == "retry_budget" {
			return fmt.Errorf("%w: %s", errAutoStopped, st.LastError)
		}
		return nil
	}
}
