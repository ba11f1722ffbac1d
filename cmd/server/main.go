package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/aiverse/aiverse-api/internal/bots"
	"github.com/aiverse/aiverse-api/internal/company"
	"github.com/aiverse/aiverse-api/internal/config"
	"github.com/aiverse/aiverse-api/internal/exchange"
	"github.com/aiverse/aiverse-api/internal/ledger"
	"github.com/aiverse/aiverse-api/internal/news"
	"github.com/aiverse/aiverse-api/internal/settlement"
	"github.com/aiverse/aiverse-api/internal/snapshot"
	"github.com/aiverse/aiverse-api/internal/types"
	"github.com/aiverse/aiverse-api/internal/world"
	"github.com/aiverse/aiverse-api/internal/ws"
	"github.com/aiverse/aiverse-api/pkg/middleware"
)

// init configures logging before anything else runs. Pretty printing
// outside production, level via config later or DEBUG immediately.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Core components.
	book := ledger.New()
	registry := company.NewRegistry(book, types.Coins(cfg.Economy.FoundingFee))
	feed := news.NewFeed(cfg.Market.NewsRetention)
	engine := exchange.NewEngine(book, registry, feed)
	processor := settlement.NewProcessor(book, registry, feed, settlement.Config{
		Interval:           cfg.Economy.TickInterval.Duration,
		UniversalIncome:    types.Coins(cfg.Economy.UniversalIncome),
		PayoutRatio:        cfg.Economy.PayoutRatio,
		PriceMoveThreshold: cfg.Economy.PriceMoveThreshold,
	})
	svc := world.NewService(book, registry, engine, feed, processor, types.Coins(cfg.Economy.JoinGrant))

	// Restore persisted state before anything mutates the world.
	var store *snapshot.Store
	if cfg.Snapshot.Enabled {
		store, err = snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to open snapshot store")
		}
		snap, err := store.Load()
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to load snapshot")
		}
		if len(snap.Agents) > 0 || len(snap.Companies) > 0 {
			svc.RestoreSnapshot(snap)
		}
	}

	if cfg.Bots.SeedCompanies {
		if err := svc.SeedCompanies(world.DefaultSeeds); err != nil {
			zlog.Fatal().Err(err).Msg("failed to seed companies")
		}
	}

	// Router.
	handlers := world.NewGinHandlers(svc)
	hub := ws.NewHub(feed)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.Use(middleware.RateLimit())
	router.Use(middleware.RequestLogger())
	setupRoutes(router, handlers, hub)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	// Background workers share one lifecycle.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		processor.Start(gctx)
		return nil
	})
	group.Go(func() error {
		err := hub.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	if cfg.Bots.Enabled {
		manager := bots.NewManager(svc, cfg.Bots.Count, cfg.Bots.Interval.Duration, time.Now().UnixNano())
		group.Go(func() error {
			err := manager.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	if store != nil {
		group.Go(func() error {
			return snapshotLoop(gctx, store, svc, cfg.Snapshot.Interval.Duration)
		})
	}

	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("AIVERSE server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("server forced to shutdown")
	}

	if err := group.Wait(); err != nil {
		zlog.Error().Err(err).Msg("background worker failed")
	}

	// Final snapshot so nothing since the last interval is lost.
	if store != nil {
		if err := store.Save(svc.Snapshot()); err != nil {
			zlog.Error().Err(err).Msg("final snapshot failed")
		}
	}

	zlog.Info().Msg("server exiting")
}

// snapshotLoop persists world state on an interval until cancelled.
func snapshotLoop(ctx context.Context, store *snapshot.Store, svc *world.Service, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := store.Save(svc.Snapshot()); err != nil {
				zlog.Error().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// setupRoutes wires every API endpoint. Queries are open; actions go
// through the same rate limiter with tighter per-path budgets.
func setupRoutes(router *gin.Engine, handlers *world.GinHandlers, hub *ws.Hub) {
	router.GET("/ws", hub.Handler())

	v1 := router.Group("/api/v1")
	{
		agents := v1.Group("/agents")
		{
			agents.POST("/join", handlers.JoinHandler())
			agents.GET("", handlers.ListAgentsHandler())
			agents.GET("/:agent_id", handlers.GetAgentHandler())
		}
		v1.GET("/leaderboard", handlers.LeaderboardHandler())

		companies := v1.Group("/companies")
		{
			companies.POST("", handlers.FoundCompanyHandler())
			companies.GET("", handlers.ListCompaniesHandler())
			companies.GET("/:ticker", handlers.GetCompanyHandler())
			companies.POST("/:ticker/ipo", handlers.LaunchIPOHandler())
			companies.POST("/:ticker/use", handlers.UseServiceHandler())
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", handlers.SubmitOrderHandler())
			orders.GET("/:order_id", handlers.GetOrderHandler())
			orders.DELETE("/:order_id", handlers.CancelOrderHandler())
		}

		v1.GET("/market/:ticker", handlers.GetMarketHandler())
		v1.GET("/trades", handlers.ListTradesHandler())
		v1.GET("/news", handlers.ListNewsHandler())
		v1.GET("/state", handlers.StateHandler())
	}
}
