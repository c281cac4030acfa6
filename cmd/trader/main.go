package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/api"
	"github.com/tradekit/autotrader/internal/auth"
	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/database"
	"github.com/tradekit/autotrader/internal/execution"
	"github.com/tradekit/autotrader/internal/fees"
	"github.com/tradekit/autotrader/internal/gateway"
	"github.com/tradekit/autotrader/internal/ledger"
	"github.com/tradekit/autotrader/internal/ratelimit"
	"github.com/tradekit/autotrader/internal/risk"
	"github.com/tradekit/autotrader/internal/store"
	"github.com/tradekit/autotrader/internal/surge"
	"github.com/tradekit/autotrader/internal/telemetry"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
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

// reconcileInterval is how often local order and position state is checked
// against the gateway's view.
const reconcileInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to load config")
		}
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirror := store.New(db)
	go mirror.Run(ctx)

	hub := telemetry.NewHub()
	go hub.Run()

	var notifier telemetry.Notifier = telemetry.NopNotifier{}
	if cfg.Telemetry.WebhookURL != "" {
		notifier = telemetry.NewWebhookNotifier(cfg.Telemetry.WebhookURL)
	}
	sink := telemetry.NewSink(hub, notifier)

	// The simulated venue stands in for a vendor session. Swapping in a real
	// gateway is a one-line change here; everything downstream sees the
	// Gateway interface.
	gw := gateway.NewSim(gateway.DefaultSimConfig())
	defer gw.Close()
	if err := gw.Login(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Gateway login failed")
	}

	governor := ratelimit.New(cfg.RateLimit)
	schedule := fees.NewSchedule(cfg.Fees, cfg.Account.Simulation)
	book := ledger.New(schedule)

	exec := execution.NewManager(cfg.Account.ID, cfg.Execution, gw, governor, book, sink, mirror)
	riskMgr := risk.NewManager(cfg.Risk, cfg.Account.StartingEquity, exec, book, sink)
	exec.SetFillListener(riskMgr)
	gw.SetQuoteHandler(riskMgr.OnQuote)

	var approver surge.Approver = surge.ScoreThresholdApprover{Threshold: cfg.Surge.ScoreThreshold}
	if cfg.Surge.ApprovalMode == "external" {
		approver = surge.HTTPApprover{URL: cfg.Surge.ApprovalURL}
	}
	pipeline := surge.NewPipeline(cfg.Surge, approver, riskMgr, exec, gw, sink, mirror)
	go pipeline.Run(ctx)

	// Periodic reconciliation against the gateway's balance view.
	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := exec.Reconcile(ctx); err != nil {
					zlog.Error().Err(err).Msg("Reconciliation failed")
				}
			}
		}
	}()

	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if key, secret := os.Getenv("API_KEY"), os.Getenv("API_SECRET"); key != "" {
		authService.RegisterAPICredentials(key, secret)
	}

	handlers := api.NewGinHandlers(exec, riskMgr, book, governor, pipeline)
	router := api.NewRouter(cfg.Server, authHandlers, handlers, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().Str("port", cfg.Server.Port).Str("account", cfg.Account.ID).Msg("Trader started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")

	// Stop taking new work, then give outstanding operations 5 seconds.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	hub.Close()

	zlog.Info().Msg("Trader exiting")
}
