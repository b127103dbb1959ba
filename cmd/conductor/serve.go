package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/conductor/api"
	audithook "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/orchestrator"
	relayhook "github.com/xraph/conductor/relay_hook"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/stream"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the heartbeat monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withStore(ctx, func(st store.Store) error {
				return a.serve(ctx, st)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

// listeners builds the event listeners enabled by the config. The
// returned cleanup releases their connections.
func (a *app) listeners() ([]event.Listener, func()) {
	var ls []event.Listener
	cleanup := func() {}

	if a.cfg.Metrics {
		ls = append(ls, observability.NewMetricsListener())
	}
	if a.cfg.Audit {
		ls = append(ls, audithook.New(
			audithook.NewSlogRecorder(a.logger.With(slog.String("component", "audit"))),
			audithook.WithLogger(a.logger),
		))
	}
	if rc := a.cfg.Redis; rc.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		ls = append(ls, relayhook.New(rdb,
			relayhook.WithPrefix(rc.Prefix),
			relayhook.WithCodec(event.GetCodec(rc.Codec)),
			relayhook.WithLogger(a.logger),
		))
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				a.logger.Warn("close redis client", slog.String("error", err.Error()))
			}
		}
	}
	return ls, cleanup
}

func (a *app) serve(ctx context.Context, st store.Store) error {
	if !a.cfg.Store.SkipMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	ls, cleanup := a.listeners()
	defer cleanup()
	var broker *stream.Broker
	if a.cfg.HTTP.Events {
		broker = stream.NewBroker(stream.WithLogger(a.logger))
		ls = append(ls, broker)
	}
	bus := event.NewBus(
		event.WithBuffer(a.cfg.Conductor.EventBuffer),
		event.WithLogger(a.logger),
		event.WithListeners(ls...),
	)

	svc := a.service(st,
		orchestrator.WithEventSink(bus),
		orchestrator.WithGuard(authz.DefaultPolicy()),
	)

	apiOpts := []api.Option{
		api.WithLogger(a.logger),
		api.WithPollRate(rate.Limit(a.cfg.HTTP.PollRate), a.cfg.HTTP.PollBurst),
	}
	if a.cfg.HTTP.MaxWait > 0 {
		apiOpts = append(apiOpts, api.WithMaxWait(a.cfg.HTTP.MaxWait))
	}
	if a.cfg.HTTP.TrustAnonymous {
		apiOpts = append(apiOpts, api.WithTrustedAnonymous())
	}
	if broker != nil {
		apiOpts = append(apiOpts, api.WithBroker(broker))
	}
	handler := api.New(svc, apiOpts...)
	bus.Subscribe(handler.Listener())
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.RunMonitor(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Event streams only end when their subscriber closes.
		if broker != nil {
			broker.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if cerr := bus.Close(drainCtx); cerr != nil {
		a.logger.Warn("event bus did not drain", slog.Uint64("dropped", bus.Dropped()))
	}
	return err
}
