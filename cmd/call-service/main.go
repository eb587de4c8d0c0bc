package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"callhub-backend/internal/config"
	"callhub-backend/internal/directory"
	callHandler "callhub-backend/internal/handler/http/call"
	pushHandler "callhub-backend/internal/handler/http/push"
	wsHandler "callhub-backend/internal/handler/ws"
	"callhub-backend/internal/media"
	"callhub-backend/internal/messaging"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/orchestrator"
	"callhub-backend/internal/repository/cassandra"
	"callhub-backend/internal/repository/cockroach"
	redisRepo "callhub-backend/internal/repository/redis"
	"callhub-backend/internal/service/directcall"
	"callhub-backend/internal/service/groupcall"
	"callhub-backend/internal/signaling"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/database"
	"callhub-backend/pkg/jwt"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
	"callhub-backend/pkg/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	production := cfg.Server.Environment == "production"
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Signaling records live in CockroachDB; nothing works without it.
	db := connectCockroach(ctx, cfg)
	defer db.Close()

	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	// The Cassandra event log is best-effort; run without history if the
	// cluster is unreachable.
	var eventRepo *cassandra.CallEventRepository
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:       cfg.Cassandra.Hosts,
		Keyspace:    cfg.Cassandra.Keyspace,
		Consistency: cfg.Cassandra.Consistency,
		Timeout:     cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Warn("failed to connect to Cassandra, call history disabled", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		eventRepo = cassandra.NewCallEventRepository(cassandraDB.Session)
	}

	// Avatars are optional display sugar.
	var avatarSigner directory.AvatarSigner
	minioClient, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		logger.Warn("failed to create MinIO client, avatars disabled", zap.Error(err))
	} else {
		avatarSigner = minioClient
	}

	signalingRepo := cockroach.NewSignalingRepository(db.Pool)
	groupRepo := cockroach.NewGroupCallRepository(db.Pool)
	store := signaling.NewStore(signalingRepo, groupRepo, eventRepo, redisDB.Client)

	settingsRepo := redisRepo.NewSettingsRepository(redisDB.Client)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	pushProviders, err := push.NewProviders(push.Config{
		FCMCredentialsFile: cfg.Push.FCMCredentialsFile,
		APNsKeyFile:        cfg.Push.APNsKeyFile,
		APNsKeyID:          cfg.Push.APNsKeyID,
		APNsTeamID:         cfg.Push.APNsTeamID,
		APNsTopic:          cfg.Push.APNsTopic,
		APNsProduction:     cfg.Push.APNsProduction,
	}, !production)
	if err != nil {
		logger.Fatal("failed to initialize push providers", zap.Error(err))
	}
	pushSvc := push.NewService(pushTokenRepo, pushProviders)

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.RefreshTokenExpiry)

	transport := media.NewProviderTransport(cfg.Media.Provider, cfg.Media.AppID, cfg.Media.AppKey)
	if transport == nil {
		logger.Warn("no media provider configured, calls will be refused")
	}

	substrateHTTP := &http.Client{Timeout: cfg.Messaging.Timeout}

	factory := func(address, username string) *orchestrator.Orchestrator {
		substrate := messaging.NewHTTPClient(cfg.Messaging.BaseURL, cfg.Messaging.ServiceToken, address, substrateHTTP)
		dir := directory.NewService(substrate, redisDB.Client, avatarSigner, cfg.MinIO.Bucket)

		line := media.NewLine()
		var session *media.Session
		if transport == nil {
			session = media.NewSession(nil)
		} else {
			session = media.NewSession(transport)
		}

		direct := directcall.NewCoordinator(store, settingsRepo, session, line, address, username,
			directcall.WithMetrics(appMetrics))
		group := groupcall.NewCoordinator(store, session, line, address,
			groupcall.WithMetrics(appMetrics))

		return orchestrator.New(address, direct, group, session, settingsRepo, presenceRepo, pushSvc, dir, store)
	}
	hub := orchestrator.NewHub(factory)

	callHdlr := callHandler.NewHandler(hub, store)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	eventsHdlr := wsHandler.NewEventsHandler(hub, presenceRepo, appMetrics)

	router := buildRouter(cfg, redisDB, jwtManager, appMetrics, callHdlr, pushHdlr, eventsHdlr)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// connectCockroach dials the relational store with exponential backoff.
// Orchestrated deployments routinely start the service before the
// database accepts connections.
func connectCockroach(ctx context.Context, cfg *config.Config) *database.CockroachDB {
	dbConfig := &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}

	const maxRetries = 5
	delay := time.Second

	for attempt := 1; ; attempt++ {
		db, err := database.NewCockroachDB(ctx, dbConfig)
		if err == nil {
			logger.Info("connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
		if attempt == maxRetries {
			logger.Fatal("failed to connect to CockroachDB", zap.Int("attempts", maxRetries), zap.Error(err))
		}

		logger.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		time.Sleep(delay)
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func buildRouter(cfg *config.Config, redisDB *database.RedisDB, jwtManager *jwt.JWTManager, appMetrics *metrics.Metrics, callHdlr *callHandler.Handler, pushHdlr *pushHandler.Handler, eventsHdlr *wsHandler.EventsHandler) *gin.Engine {
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	router.Use(middleware.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET(middleware.GetMetricsPath(), middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)
	auth := middleware.AuthMiddleware(jwtManager, revocationChecker)

	// Call creation gets a tight per-user limit; a dialing loop floods the
	// callee's subscription.
	callLimiter := middleware.NewRateLimiter(redisDB.Client, 30, time.Minute)

	calls := router.Group("/v1/calls")
	calls.Use(auth)
	{
		calls.POST("", callLimiter.Middleware(), callHdlr.StartCall)
		calls.GET("/state", callHdlr.GetState)
		calls.GET("/history", callHdlr.GetHistory)
		calls.GET("/events", eventsHdlr.ServeWS)

		calls.GET("/:id", callHdlr.GetCall)
		calls.POST("/:id/accept", callHdlr.AcceptCall)
		calls.POST("/:id/reject", callHdlr.RejectCall)
		calls.POST("/:id/end", callHdlr.EndCall)

		calls.POST("/group", callLimiter.Middleware(), callHdlr.StartGroupCall)
		calls.POST("/group/leave", callHdlr.LeaveGroupCall)
		calls.POST("/group/:id/join", callHdlr.JoinGroupCall)
		calls.POST("/group/:id/dismiss", callHdlr.DismissGroupCall)

		calls.POST("/media/mute", callHdlr.ToggleMute)
		calls.POST("/media/video", callHdlr.ToggleVideo)
		calls.POST("/media/screen", callHdlr.ToggleScreenShare)
	}

	pushGroup := router.Group("/v1/push")
	pushGroup.Use(auth)
	{
		pushGroup.POST("/tokens", pushHdlr.RegisterToken)
		pushGroup.DELETE("/tokens", pushHdlr.UnregisterToken)
	}

	return router
}
