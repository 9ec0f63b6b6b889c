package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"signaling-backend/internal/database"
	presenceHandler "signaling-backend/internal/handler/http/presence"
	pushHandler "signaling-backend/internal/handler/http/push"
	wsHandler "signaling-backend/internal/handler/ws"
	"signaling-backend/internal/middleware"
	"signaling-backend/internal/repository/cockroach"
	redisRepo "signaling-backend/internal/repository/redis"
	"signaling-backend/pkg/config"
	"signaling-backend/pkg/constants"
	pkgDatabase "signaling-backend/pkg/database"
	"signaling-backend/pkg/jwt"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/metrics"
	"signaling-backend/pkg/push"
)

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	deps := wsHandler.HubDeps{Metrics: appMetrics}

	// 4. Redis presence mirror and push tokens
	var redisDB *database.RedisClient
	var pushSvc *push.Service
	if cfg.Redis.Enabled {
		redisDB = database.NewRedisDB(&cfg.Redis, appMetrics.GetRegistry())
		if err := redisDB.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
		} else {
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.RedisAddr()))
		}
		redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)

		presenceRepo := redisRepo.NewPresenceRepository(redisDB, cfg.Signaling.OfflineGracePeriod)
		// Presence is rebuilt by reconnecting clients
		if err := presenceRepo.ClearOnline(ctx); err != nil {
			logger.Warn("Failed to clear mirrored online set", zap.Error(err))
		}
		deps.Presence = presenceRepo

		provider, err := push.NewProvider(cfg.Push)
		if err != nil {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		pushSvc = push.NewService(provider, redisRepo.NewPushTokenRepository(redisDB.Client), appMetrics)
		deps.Notifier = pushSvc
	} else {
		logger.Info("Redis disabled, presence mirror and push notifications are off")
	}

	// 5. CockroachDB call history
	var db *pkgDatabase.CockroachDB
	if cfg.Database.Enabled {
		db, err = pkgDatabase.NewCockroachDB(ctx, &cfg.Database)
		if err != nil {
			logger.Warn("CockroachDB unavailable, call history disabled", zap.Error(err))
		} else {
			callRepo := cockroach.NewCallRepository(db.Pool)
			if err := callRepo.EnsureSchema(ctx); err != nil {
				logger.Fatal("Failed to prepare call history schema", zap.Error(err))
			}
			deps.History = callRepo
			logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host))
		}
	}

	// 6. Signaling hub
	hub := wsHandler.NewSignalingHub(wsHandler.HubConfig{
		RingTimeout:        cfg.Signaling.RingTimeout,
		OfflineGracePeriod: cfg.Signaling.OfflineGracePeriod,
		FallbackBroadcast:  cfg.Signaling.EndCallFallbackBroadcast,
		AuthRequired:       cfg.WebSocket.AuthRequired,
	}, deps)

	var jwtManager *jwt.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	}

	// 7. Handlers
	signalingHdlr := wsHandler.NewSignalingHandler(hub, wsHandler.HandlerConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxConnections:  cfg.WebSocket.MaxConnections,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
		AuthRequired:    cfg.WebSocket.AuthRequired,
	})
	presenceHdlr := presenceHandler.NewHandler(hub)

	// 8. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET(middleware.GetMetricsPath(), middleware.MetricsHandler(appMetrics))

	router.GET("/ws", middleware.AuthMiddleware(jwtManager, cfg.WebSocket.AuthRequired), signalingHdlr.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.SecurityHeaders())
	v1.Use(middleware.RequestTimeout(constants.DefaultTimeout))
	v1.Use(middleware.AuthMiddleware(jwtManager, false))
	{
		v1.GET("/presence/online", presenceHdlr.GetOnlineUsers)
		v1.GET("/presence/:userId", presenceHdlr.GetUserStatus)
		v1.GET("/calls/active", presenceHdlr.GetActiveCalls)
		if pushSvc != nil {
			v1.POST("/push/tokens", pushHandler.NewHandler(pushSvc).RegisterToken)
		}
	}

	// 9. Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down signaling service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := hub.Stop(shutdownCtx); err != nil {
		logger.Error("Signaling hub shutdown failed", zap.Error(err))
	}

	cancel()
	if redisDB != nil {
		if err := redisDB.Close(); err != nil {
			logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if db != nil {
		db.Close()
	}

	logger.Info("Signaling service stopped")
}
