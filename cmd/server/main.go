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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/ruscet/vault-engine/internal/api"
	"github.com/ruscet/vault-engine/internal/config"
	"github.com/ruscet/vault-engine/internal/events"
	"github.com/ruscet/vault-engine/internal/ledger"
	"github.com/ruscet/vault-engine/internal/metrics"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/oracle"
	"github.com/ruscet/vault-engine/internal/store"
	"github.com/ruscet/vault-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Ledger state ---
	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		slog.Error("loading vault state failed", "err", err)
		os.Exit(1)
	}
	defaults := model.NewSettings(cfg.Owner)
	defaults.FundingInterval = cfg.FundingInterval
	defaults.FundingRateFactor = cfg.FundingRateFactor
	state := ledger.Restore(snap, defaults)
	slog.Info("vault state loaded",
		"assets", len(snap.Assets),
		"positions", len(snap.Positions),
	)

	// --- Oracle ---
	feedOpts := []oracle.Option{oracle.WithMaxAge(cfg.MaxPriceAge)}
	if len(cfg.OracleSigners) > 0 {
		verifier, err := oracle.NewEd25519Verifier(cfg.OracleSigners)
		if err != nil {
			slog.Error("invalid ORACLE_SIGNERS", "err", err)
			os.Exit(1)
		}
		feedOpts = append(feedOpts, oracle.WithVerifier(verifier))
	} else {
		slog.Warn("ORACLE_SIGNERS not set, accepting unsigned price updates")
	}
	feed, err := oracle.NewFeed(cfg.PriceSpreadBps, feedOpts...)
	if err != nil {
		slog.Error("oracle setup failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub and event fan-out ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	publishers := events.Fanout{wsHub}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, nats.Name("vault-engine"))
		if err != nil {
			slog.Error("NATS connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, np.Close)
		publishers = append(publishers, np)
		slog.Info("publishing events to NATS", "subjects", events.SubjectPrefix+"*")
	}
	journal := events.NewJournal(st, publishers, logger)

	// --- Vault engine ---
	engine := vault.New(state, feed, vault.WithJournal(journal), vault.WithLogger(logger))
	svc := api.NewService(engine, st, wsHub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AccountHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vault-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Mount)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-engine listening", "port", cfg.Port, "owner", cfg.Owner)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vault-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vault-engine stopped")
}
