package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/go-bounty-bot/internal/http"
	"github.com/tbourn/go-bounty-bot/internal/observability"
	"github.com/tbourn/go-bounty-bot/internal/sysutil"
	"github.com/tbourn/go-bounty-bot/internal/workers"
)

var (
	servePort      string
	serveNoWorkers bool
	serveDrain     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the chat gateway and the background workers",
	Long: `Run the bot until SIGINT or SIGTERM.

Started components:
  - HTTP API on PORT
  - Slack Socket Mode gateway (TRANSPORT=slack)
  - change feed applying web board writes
  - repeat reconciler every RECONCILE_INTERVAL`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Override PORT")
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "Do not start the change feed and the reconciler")
	serveCmd.Flags().DurationVar(&serveDrain, "drain", 15*time.Second, "Graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.BuildInfo{
		Version:   version,
		Transport: cfg.Transport,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	chat, err := newChat(cfg)
	if err != nil {
		return err
	}
	svc := newServices(cfg, db, chat.transport)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, svc.Router, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", sysutil.FirstNonEmpty(servePort, cfg.Port)),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serveDrain)
		defer cancel()
		log.Info().Msg("http server shutting down")
		return srv.Shutdown(sctx)
	})

	if chat.gateway != nil {
		g.Go(func() error { return chat.gateway(gctx, svc.Router) })
	}

	if !serveNoWorkers {
		feed := &workers.ChangeFeed{
			DB:       db,
			Handler:  svc.Router,
			Interval: cfg.ChangeFeedPollInterval,
			Batch:    cfg.ChangeFeedBatch,
		}
		// Position the cursor before accepting traffic so no web write is missed.
		if err := feed.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error { return feed.Run(gctx) })

		sched := &workers.Scheduler{
			Reconciler: svc.Reconciler,
			Interval:   cfg.ReconcileInterval,
			Immediate:  true,
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	err = g.Wait()
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("bountybot stopped")
	return nil
}
