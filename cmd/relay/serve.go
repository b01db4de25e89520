package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/api"
	"github.com/punchamoorthee/claimrelay/internal/config"
	"github.com/punchamoorthee/claimrelay/internal/retry"
	"github.com/punchamoorthee/claimrelay/internal/service"
	"github.com/punchamoorthee/claimrelay/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume chat events and serve the ops endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. State must be restored before the first event is consumed
	st, err := openState(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. Broker
	conn, err := transport.Dial(ctx, transport.ConnectionOptions{
		URL:           cfg.AMQPURL,
		RetryAttempts: cfg.RetryAttempts,
		Delay:         cfg.RetryDelay,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := transport.NewClient(conn, cfg.OutboundExchange, cfg.RPCTimeout, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	tr := transport.NewRetrying(client, retry.Policy{
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		Factor:   cfg.RetryFactor,
	}, logger)

	// 3. Engine
	relay := service.New(service.Deps{
		Assets:       st.assets,
		Rooms:        st.rooms,
		Correlations: st.correlations,
		Responses:    st.responses,
		Approvals:    st.approvals,
		Transport:    tr,
	}, service.Options{
		MinAmount:         cfg.MinAmount,
		MaxAmount:         cfg.MaxAmount,
		DefaultSourceRoom: cfg.DefaultSourceRoom,
		DefaultTargetRoom: cfg.DefaultTargetRoom,
		LooseMatching:     cfg.LooseMatching,
		ConfirmButtons:    cfg.ConfirmButtons,
	}, logger)

	consumer, err := transport.NewConsumer(conn, cfg.InboundExchange, cfg.InboundQueue, cfg.Workers, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(st.assets, relay, st.correlations, st.responses)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 4. Run until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ops server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return consumer.Run(gctx, relay.HandleMessage)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// 5. Final snapshot
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ferr := st.coord.FlushAll(flushCtx); ferr != nil {
		logger.Error("final snapshot failed", slog.Any("error", ferr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("relay stopped")
	return nil
}
