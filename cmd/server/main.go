package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/miyamoto-labs/easypoly/internal/access"
	"github.com/miyamoto-labs/easypoly/internal/assistant"
	"github.com/miyamoto-labs/easypoly/internal/bot"
	"github.com/miyamoto-labs/easypoly/internal/clob"
	"github.com/miyamoto-labs/easypoly/internal/config"
	"github.com/miyamoto-labs/easypoly/internal/events"
	"github.com/miyamoto-labs/easypoly/internal/gamma"
	"github.com/miyamoto-labs/easypoly/internal/httputil"
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/market"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
	"github.com/miyamoto-labs/easypoly/internal/points"
	"github.com/miyamoto-labs/easypoly/internal/ratelimit"
	"github.com/miyamoto-labs/easypoly/internal/referral"
	"github.com/miyamoto-labs/easypoly/internal/store"
	"github.com/miyamoto-labs/easypoly/internal/vault"
	"github.com/miyamoto-labs/easypoly/internal/wallet"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and shared rate limits) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	st, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closeStore)

	// --- Polymarket clients ---
	gammaClient, err := gamma.NewClient(cfg.GammaURL)
	if err != nil {
		slog.Error("invalid GAMMA_API_URL", "err", err)
		os.Exit(1)
	}
	gammaClient = gammaClient.WithRetry(httputil.DefaultRetry)

	clobClient, err := clob.NewClient(cfg.ClobURL, cfg.PriceBatchSize)
	if err != nil {
		slog.Error("invalid CLOB_API_URL", "err", err)
		os.Exit(1)
	}

	var builder clob.Signer
	if cfg.BuilderConfigured() {
		builder = clob.BuilderSigner{Creds: clob.ApiCreds{
			Key:        cfg.BuilderAPIKey,
			Secret:     cfg.BuilderSecret,
			Passphrase: cfg.BuilderPassphrase,
		}}
		slog.Info("builder attribution enabled")
	}

	resolver := window.NewResolver(gammaClient)

	// --- AI assistant ---
	ai := newAssistant(cfg)

	// --- Events ---
	hub := events.NewHub()
	go hub.Run(ctx)

	sinks := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Warn("kafka writer close failed", "err", err)
			}
		})
		sinks = append(sinks, kp)
		slog.Info("kafka events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookPublisher(cfg.WebhookURL))
		slog.Info("webhook notifications enabled")
	}

	// --- Rate limiting ---
	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}
	aiLimit := ratelimit.Middleware(limiter, cfg.RateLimitWindow)

	// --- Services ---
	pointsSvc := points.NewService(st)
	opts := bot.DefaultOptions()
	opts.DefaultMinutes = cfg.DefaultSessionMinutes
	opts.MaxMinutes = cfg.MaxSessionMinutes
	opts.TradePoints = cfg.TradePoints
	botSvc := bot.NewService(st, gammaClient, pointsSvc, sinks, opts)
	marketSvc := market.NewService(resolver, clobClient, ai, cfg.MaxLookahead)
	assistantSvc := assistant.NewService(ai)
	credVault := vault.New(cfg.EncryptionKey)
	if err := credVault.Check(); err != nil {
		slog.Warn("credential endpoints will fail until the encryption key is fixed", "err", err)
	}
	walletSvc := wallet.NewService(st, credVault, clobClient, builder)
	referralSvc := referral.NewService(st, pointsSvc, sinks, cfg.ReferralPoints)
	accessSvc := access.NewService(st)

	// Callers are not proven to own the wallets they name; a shared key
	// limits the signing endpoints to the trusted frontend.
	var walletAuth []func(http.Handler) http.Handler
	if cfg.WalletAPIKey != "" {
		walletAuth = append(walletAuth, httpx.BearerAuth(cfg.WalletAPIKey))
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.CORSAllowOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"service":   "easypoly",
			"wsClients": hub.Clients(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Long-lived websocket, kept outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(45 * time.Second))

			r.Get("/market", marketSvc.HandleMarket)
			r.Get("/prices", marketSvc.HandlePrices)
			r.With(aiLimit).Post("/trade/manual", marketSvc.HandleManualTrade)
			r.With(aiLimit).Post("/ai/ask", assistantSvc.HandleAsk)

			botSvc.Routes(r)

			r.Get("/points", pointsSvc.HandleGet)
			r.Post("/points/award", pointsSvc.HandleAward)

			r.Get("/referrals/code", referralSvc.HandleCode)
			r.Post("/referrals/track", referralSvc.HandleTrack)

			walletSvc.Routes(r, walletAuth...)

			r.Post("/access/redeem", accessSvc.HandleRedeem)
			r.Get("/access/check", accessSvc.HandleCheck)

			r.Route("/admin", func(r chi.Router) {
				r.Use(httpx.BearerAuth(cfg.AdminAPIKey))
				r.Post("/access-codes", accessSvc.HandleCreate)
			})
		})
	})

	// --- Server ---
	// WriteTimeout leaves room for the assistant's 30s job polling.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 50 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("easypoly listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down easypoly...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("easypoly stopped")
}

// openStore picks PostgreSQL, then SQLite, then memory. A Redis client, when
// present, fronts PostgreSQL as a read-through cache.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (store.Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")
		if rdb != nil {
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
			return store.NewCachedStore(pg, rdb, cfg.CacheTTL), pool.Close, nil
		}
		return pg, pool.Close, nil

	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
		return lite, func() { lite.Close() }, nil

	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// newAssistant prefers Bankr, falls back to an OpenAI-compatible backend,
// and returns nil when neither is configured.
func newAssistant(cfg *config.Config) assistant.Assistant {
	if cfg.BankrAPIKey != "" {
		c, err := assistant.NewBankrClient(cfg.BankrURL, cfg.BankrAPIKey)
		if err == nil {
			slog.Info("AI assistant enabled", "backend", "bankr")
			return assistant.Instrumented{Assistant: c, Backend: "bankr"}
		}
		slog.Warn("bankr assistant unavailable", "err", err)
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err == nil {
			slog.Info("AI assistant enabled", "backend", "openai")
			return assistant.Instrumented{Assistant: c, Backend: "openai"}
		}
		slog.Warn("openai assistant unavailable", "err", err)
	}
	return nil
}

// cors allows cross-origin requests from the web frontend.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
