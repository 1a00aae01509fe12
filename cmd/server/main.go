package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/auth"
	"github.com/aurax/trading-engine/internal/broker"
	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/database"
	"github.com/aurax/trading-engine/internal/executor"
	"github.com/aurax/trading-engine/internal/guard"
	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/risk"
	"github.com/aurax/trading-engine/internal/strategy"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/internal/verifier"
	"github.com/aurax/trading-engine/internal/watcher"
	"github.com/aurax/trading-engine/pkg/metrics"
	"github.com/aurax/trading-engine/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main initializes and runs the trading engine: the HTTP surface plus
// the executor, guard, watcher and market feed background tasks.
func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	rec := metrics.New()
	cache := market.NewCache(time.Minute)

	contractSvc := contracts.NewService(db)
	if err := contractSvc.LoadMaster(envOr("CONTRACTS_FILE", "data/angel_contracts.json")); err != nil {
		zlog.Warn().Err(err).Msg("contract master not loaded, store lookups only")
	}

	brokerCfg := broker.Config{
		APIKey:    os.Getenv("ANGEL_API_KEY"),
		ClientID:  os.Getenv("ANGEL_CLIENT_ID"),
		Password:  os.Getenv("ANGEL_PASSWORD"),
		AuthURL:   envOr("ANGEL_AUTH_URL", "https://apiconnect.angelbroking.com/rest/auth/angelbroking/user/v1/loginByPassword"),
		OrderURL:  envOr("ANGEL_ORDER_URL", "https://apiconnect.angelbroking.com/rest/secure/angelbroking/order/v1/placeOrder"),
		QuoteURL:  envOr("ANGEL_QUOTE_URL", "https://apiconnect.angelbroking.com/rest/secure/angelbroking/market/v1/quote"),
		CandleURL: envOr("ANGEL_CANDLE_URL", "https://apiconnect.angelbroking.com/rest/secure/angelbroking/historical/v1/getCandleData"),
	}
	brokerClient := broker.NewClient(brokerCfg, db, contractSvc)
	simulator := broker.NewSimulator(cache)

	sys, err := system.NewService(db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize system state")
	}

	// the live order path must not run without credentials; demo mode
	// still works off the simulator
	liveReady := brokerCfg.Validate() == nil
	if !liveReady {
		zlog.Warn().Msg("broker credentials missing, live trading disabled")
		if mode, err := sys.Mode(); err == nil && mode == system.ModeLive {
			if err := sys.SetMode(system.ModeDemo); err != nil {
				zlog.Fatal().Err(err).Msg("Failed to fall back to demo mode")
			}
		}
	}

	notifier := notify.New(notify.Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}, db)

	v := verifier.New(verifier.DefaultConfig(), cache)
	riskManager := risk.NewManager(db)

	var livePlacer broker.OrderPlacer = brokerClient
	var prices broker.PriceSource = brokerClient
	if !liveReady {
		livePlacer = simulator
		prices = simulator
	}

	tradingService := trading.NewService(db, v, riskManager, sys, contractSvc, notifier, livePlacer, simulator, rec)
	strategyService := strategy.NewService(db, brokerClient)

	// Initialize handlers
	authService := auth.NewService(envOr("JWT_SECRET", "aurax-dev-secret"))
	if key, secret := os.Getenv("API_KEY"), os.Getenv("API_SECRET"); key != "" && secret != "" {
		authService.RegisterAPICredentials(key, secret)
	}
	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(tradingService, strategyService)
	systemHandlers := system.NewGinHandlers(sys)
	strategyHandlers := strategy.NewGinHandlers(strategyService)
	notifyHandlers := notify.NewGinHandlers(notifier)

	// Background tasks
	taskCtx, taskCancel := context.WithCancel(context.Background())
	defer taskCancel()

	atmExecutor := executor.New(executor.DefaultConfig(), cache, v, tradingService, contractSvc, riskManager, notifier, rec)
	go atmExecutor.Start(taskCtx)

	lossGuard := guard.New(guard.DefaultConfig(), tradingService.GetDB(), sys, notifier, rec)
	go lossGuard.Start(taskCtx)

	tradeWatcher := watcher.New(watcher.DefaultConfig(), tradingService.GetDB(), prices, notifier, rec)
	go tradeWatcher.Start(taskCtx)

	if feedURL := os.Getenv("FEED_URL"); feedURL != "" {
		feedCfg := market.DefaultFeedConfig()
		feedCfg.URL = feedURL
		feedCfg.Tokens = strings.Split(envOr("FEED_TOKENS", ""), ",")
		feed := market.NewFeed(feedCfg, cache, brokerClient.FeedToken)
		go feed.Run(taskCtx)
	}

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, authService, authHandlers, tradingHandlers, systemHandlers, strategyHandlers, notifyHandlers)

	// Get port from env otherwise it's 8080
	port := envOr("PORT", "8080")

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// stop the periodic tasks between iterations, then drain HTTP
	taskCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth and webhook routes: public (the webhook is rate limited)
// - Trade, mode, signal and notification routes: JWT protected
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	systemHandlers *system.GinHandlers,
	strategyHandlers *strategy.GinHandlers,
	notifyHandlers *notify.GinHandlers,
) {
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// TradingView alerts carry no JWT; they are gated by the
		// verifier and the rate limiter
		webhook := v1.Group("/webhook")
		{
			webhook.POST("/tradingview", tradingHandlers.TradingViewWebhookHandler())
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(authService.Secret()))
		{
			trades := protected.Group("/trades")
			{
				trades.POST("", tradingHandlers.PlaceTradeHandler())
				trades.GET("", tradingHandlers.ListTradesHandler())
				trades.GET("/:trade_key", tradingHandlers.GetTradeStatusHandler())
			}

			mode := protected.Group("/mode")
			{
				mode.GET("", systemHandlers.GetModeHandler())
				mode.POST("", systemHandlers.SwitchModeHandler())
				mode.POST("/resume", systemHandlers.ForceResumeHandler())
			}

			protected.GET("/risk/status", tradingHandlers.RiskStatusHandler())

			signals := protected.Group("/signals")
			{
				signals.POST("/generate", strategyHandlers.GenerateSignalHandler())
				signals.GET("/latest", strategyHandlers.LatestSignalHandler())
				signals.GET("/history", strategyHandlers.SignalHistoryHandler())
			}

			protected.GET("/notifications", notifyHandlers.ListNotificationsHandler())
		}
	}
}
