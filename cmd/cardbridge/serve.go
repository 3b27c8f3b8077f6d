package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/cardbridge/internal/hub"
	"github.com/dgnsrekt/cardbridge/internal/link"
	"github.com/dgnsrekt/cardbridge/internal/metrics"
	"github.com/dgnsrekt/cardbridge/internal/notify"
	"github.com/dgnsrekt/cardbridge/internal/server"
	"github.com/dgnsrekt/cardbridge/internal/shutdown"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	alertCfg := notify.LoadConfig()
	if err := alertCfg.Validate(); err != nil {
		return fmt.Errorf("alert config: %w", err)
	}

	met := metrics.New()

	h := hub.New(logger.Named("hub"),
		hub.WithMaxSubscribers(cfg.Server.MaxSubscribers),
		hub.WithMetrics(met),
	)

	mgr := link.NewManager(cfg.Link(), h, logger.Named("link"),
		link.WithNotifier(notify.New(alertCfg, logger.Named("notify"))),
		link.WithMetrics(met),
	)

	limiter := rate.NewLimiter(rate.Limit(cfg.Server.ConnectRate), cfg.Server.ConnectBurst)
	router := server.NewRouter(server.NewServer(h, mgr, met, limiter, logger), logger.Named("http"))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	coord := shutdown.New(mgr, h, httpServer, cfg.Shutdown.ForceAfter, logger)

	// Components stop through the coordinator, not through ctx.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	coord.Go("hub", func() { h.Run(runCtx) })
	coord.Go("link", func() { mgr.Run(runCtx) })
	coord.Go("listener", func() {
		logger.Info("push channel listening",
			zap.String("addr", httpServer.Addr),
			zap.String("reader", cfg.Link().Addr()),
			zap.Bool("alerts", alertCfg.Enabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			coord.Fail(fmt.Errorf("listener: %w", err))
		}
	})

	go func() {
		select {
		case <-ctx.Done():
			coord.Shutdown("signal received")
		case <-coord.Done():
		}
	}()

	code := coord.Wait()
	logger.Info("bridge stopped", zap.Int("exitStatus", code))
	if code != 0 {
		return fmt.Errorf("exit status %d", code)
	}
	return nil
}
