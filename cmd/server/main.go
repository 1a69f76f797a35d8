package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"matchtalk/internal/chat"
	"matchtalk/internal/config"
	"matchtalk/internal/db"
	"matchtalk/internal/metrics"
	myMiddleware "matchtalk/internal/middleware"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides CHAT_ADDR)")
	flag.Parse()

	initLogger()
	cfg := config.Load()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("CHAT_DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("CHAT_JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()
	slog.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	slog.Info("connected to redis")

	metrics.MustRegister()

	repo := chat.NewRepository(database.Pool)
	presence := chat.NewPresence()
	bus := chat.NewRedisBus(redisClient, "chat-events")
	hub := chat.NewHub(repo, presence, bus, slog.Default())
	go hub.Run(ctx)

	chatHandler := chat.NewHandler(hub, repo, cfg.DedupWindow, cfg.HistoryLimit)
	validator := myMiddleware.NewJWTValidator(cfg.JWTSecret)
	authMiddleware := myMiddleware.NewAuthMiddleware(validator)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RatePeriod))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/messages", chatHandler.GetChatHistory)
		r.Get("/api/contacts", chatHandler.ListContacts)
		r.Post("/api/contacts", chatHandler.AddContact)
		r.Delete("/api/contacts/{contactID}", chatHandler.RemoveContact)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		slog.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
}

func initLogger() {
	var level slog.Level
	switch strings.ToLower(os.Getenv("CHAT_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
