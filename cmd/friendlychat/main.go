package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/friendlychat/internal/cache"
	"github.com/weiawesome/friendlychat/internal/config"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/handler"
	"github.com/weiawesome/friendlychat/internal/hub"
	"github.com/weiawesome/friendlychat/internal/identity"
	"github.com/weiawesome/friendlychat/internal/metrics"
	"github.com/weiawesome/friendlychat/internal/processor"
	"github.com/weiawesome/friendlychat/internal/repository"
	"github.com/weiawesome/friendlychat/internal/store"
	"github.com/weiawesome/friendlychat/pkg/database"
	"github.com/weiawesome/friendlychat/pkg/jwt"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
	"github.com/weiawesome/friendlychat/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Init(cfg.Log)
	l := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, &domain.MessageModel{}); err != nil {
		l.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	repo, err := repository.NewGormMessageRepository(ctx, db)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize message repository")
	}

	var bus pubsub.PubSub
	var busRedis *redis.Client
	if cfg.PubSub.Driver == "redis" {
		busRedis = dialRedis(ctx, cfg.PubSub.Redis)
		bus = pubsub.NewRedisPubSubFromClient(busRedis)
	} else {
		bus, err = pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize pubsub")
		}
	}
	defer bus.Close()
	l.Info().Str("driver", cfg.PubSub.Driver).Msg("change bus ready")

	var windowCache cache.WindowCache = cache.NoopCache{}
	if cfg.Cache.Driver == "redis" {
		cacheRedis := busRedis
		if !cfg.CacheSharesBusRedis() {
			cacheRedis = dialRedis(ctx, cfg.Cache.Redis)
			defer cacheRedis.Close()
		}
		windowCache = cache.NewRedisWindowCache(cacheRedis, cfg.Cache.Prefix)
	}
	defer windowCache.Close()

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize storage")
	}

	m := metrics.New()

	// Initialize store client
	chatStore := store.New(repo, bus, blobs, windowCache,
		processor.NewDisplayProcessor(cfg.Upload.MaxWidth, cfg.Upload.JPEGQuality), m,
		store.Options{
			Collection:       cfg.Chat.Collection,
			WindowSize:       cfg.Chat.WindowSize,
			QueryBuffer:      cfg.Chat.QueryBuffer,
			CacheTTL:         cfg.Cache.TTL,
			URLExpiry:        cfg.Upload.URLExpiry,
			StaleUploadAfter: cfg.Chat.StaleUploadAfter,
			ReapInterval:     cfg.Chat.ReapInterval,
		})
	if err := chatStore.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to start store client")
	}
	defer chatStore.Close()

	// Initialize identity gate
	tokens, err := newTokenManager(cfg.Auth)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize session tokens")
	}
	provider, err := identity.NewProvider(cfg.Auth.Provider)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize identity provider")
	}
	gate := identity.NewGate(provider, tokens, cfg.Auth.StateTTL)
	go gate.Run(ctx, cfg.Auth.CleanupInterval)

	// Initialize Hub
	wsHub := hub.NewHub(m)
	go wsHub.Run(ctx)

	filesDir := ""
	if local, ok := blobs.(*storage.LocalStorage); ok {
		filesDir = local.Root()
	}
	httpHandler := handler.NewHandler(gate, chatStore, wsHub, m, handler.Options{
		WebSocket:     cfg.WebSocket,
		FadeInDelay:   cfg.Chat.FadeInDelay,
		MaxUploadSize: cfg.Upload.MaxSize,
		SecureCookies: cfg.Server.SecureCookies,
		SessionMaxAge: cfg.Auth.SessionDuration,
		FilesPrefix:   cfg.Storage.Local.URLPrefix,
		FilesDir:      filesDir,
	})
	gate.OnAuthStateChanged(httpHandler.PushAuthState)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(l, "/health", "/metrics"))
	httpHandler.RegisterRoutes(router)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		l.Info().Str("addr", addr).Str("provider", provider.Name()).Msg("friendlychat listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	l.Info().Msg("server exited")
}

func newTokenManager(cfg config.AuthConfig) (*jwt.Manager, error) {
	if cfg.SigningKeyFile == "" {
		return jwt.NewManager(cfg.SessionDuration, cfg.Issuer)
	}
	pem, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return jwt.NewManagerFromPEM(pem, cfg.SessionDuration, cfg.Issuer)
}

func dialRedis(ctx context.Context, cfg pubsub.RedisConfig) *redis.Client {
	l := log.L()
	client := redis.NewClient(cfg.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		l.Fatal().Err(err).Str("address", cfg.Address).Msg("failed to connect to redis")
	}
	l.Info().Str("address", cfg.Address).Msg("connected to redis")
	return client
}
