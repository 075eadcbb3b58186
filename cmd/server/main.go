package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-smarttalk/internal/chat"
	"go-smarttalk/internal/config"
	"go-smarttalk/internal/db"
	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"
	"go-smarttalk/internal/linkpreview"
	"go-smarttalk/internal/logger"
	myMiddleware "go-smarttalk/internal/middleware"
	"go-smarttalk/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// eventBus is what the chosen feed backend has to offer.
type eventBus interface {
	feed.Publisher
	feed.Subscriber
	Close() error
}

func main() {
	// 1. Config & logging
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting smarttalk", "env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Message store
	var store chat.Store
	if cfg.Postgres.DSN != "" {
		database, err := db.NewDatabase(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer database.Close()
		if err := database.AutoMigrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		slog.Info("connected to postgres")
		store = chat.NewRepository(database.Conn)
	} else {
		slog.Warn("DB_DSN not set, messages are kept in memory")
		store = chat.NewMemoryStore()
	}

	// 3. Redis (feed and preview cache)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// 4. Change feed
	var bus eventBus
	switch cfg.Feed.Backend {
	case "redis":
		bus = feed.NewRedis(redisClient, cfg.Redis.Channel)
	case "nats":
		n, err := feed.NewNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		bus = n
	default:
		bus = feed.NewMemory()
	}
	defer bus.Close()
	slog.Info("change feed ready", "backend", cfg.Feed.Backend)

	// 5. Identity
	var verifiers identity.Chain
	if cfg.Auth.JWTSecret != "" {
		verifiers = append(verifiers, identity.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	}
	if cfg.Auth.FirebaseProject != "" {
		fb, err := identity.NewFirebase(ctx, cfg.Auth.FirebaseProject, cfg.Auth.FirebaseCredentials)
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		verifiers = append(verifiers, fb)
	}
	var verifier identity.Verifier
	if len(verifiers) > 0 {
		verifier = verifiers
	}
	// The author identity is only reachable through a verified token.
	authMiddleware := myMiddleware.NewAuthMiddleware(verifier, cfg.Auth.AllowDemo, cfg.Auth.AuthorEmail)
	if cfg.Auth.AuthorEmail == "" {
		slog.Warn("AUTHOR_EMAIL not set, nobody can pin messages")
	} else if verifier == nil {
		slog.Warn("AUTHOR_EMAIL set without JWT_SECRET or FIREBASE_PROJECT_ID, the author cannot sign in")
	}

	// 6. Attachments
	var bucket storage.Bucket
	var uploads http.Handler
	switch cfg.Storage.Backend {
	case "gcs":
		g, err := storage.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.Credentials)
		if err != nil {
			log.Fatalf("gcs: %v", err)
		}
		defer g.Close()
		bucket = g
	default:
		l, err := storage.NewLocal(cfg.Storage.Dir, cfg.Storage.BaseURL)
		if err != nil {
			log.Fatalf("local storage: %v", err)
		}
		bucket = l
		// Only a same-origin base URL is served from here.
		if strings.HasPrefix(cfg.Storage.BaseURL, "/") {
			uploads = http.StripPrefix(cfg.Storage.BaseURL, http.FileServer(http.Dir(l.Dir())))
		}
	}

	// 7. Link previews
	var previews linkpreview.Source
	if cfg.LinkPreview.Enabled {
		previews = linkpreview.NewFetcher(linkpreview.Options{
			Timeout:      cfg.LinkPreview.FetchTimeout(),
			AllowPrivate: cfg.LinkPreview.AllowPrivate,
		})
		if redisClient != nil {
			previews = linkpreview.NewCached(previews, redisClient, cfg.Redis.PreviewCacheTTL())
		}
	}

	// 8. Chat feature
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := chat.NewMetrics(reg)

	svc := chat.NewService(store, bus, chat.Policy{Author: cfg.Auth.AuthorEmail}, metrics)
	hub := chat.NewHub(bus, metrics)

	// Start the Hub Engines
	go hub.Run(ctx)
	if err := hub.SubscribeToFeed(ctx); err != nil {
		log.Fatalf("subscribe to feed: %v", err)
	}

	chatHandler := chat.NewHandler(svc, hub, bucket, previews)

	// 9. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			myMiddleware.HeaderDemoName, myMiddleware.HeaderDemoEmail, myMiddleware.HeaderDemoImage},
		MaxAge: 300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if uploads != nil {
		r.Handle(cfg.Storage.BaseURL+"/*", uploads)
	}

	chatHandler.Mount(r, chat.Middlewares{
		Identify:  authMiddleware.Identify,
		Require:   authMiddleware.Require,
		RateLimit: myMiddleware.RateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
	})

	// 10. Serve until a signal arrives
	readTimeout, writeTimeout, shutdownTimeout := cfg.HTTP.Timeouts()
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal")
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
	slog.Info("stopped")
}
