package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/futurebureau/internal/config"
	"github.com/atmx/futurebureau/internal/contract"
	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/events"
	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/metrics"
	"github.com/atmx/futurebureau/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("futurebureau exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("futurebureau stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Ledger ---
	base, closeLedger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeLedger)

	// --- Custody ---
	inv, err := openCustody(cfg.Custody, cfg.Contract.BaseToken)
	if err != nil {
		return err
	}

	// --- Event delivery ---
	hub := server.NewHub()
	pubs := events.Multi{hub}
	if cfg.NATS.URL != "" {
		np, err := events.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { np.Close() })
		pubs = append(pubs, np)
		slog.Info("publishing events to NATS", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}

	// --- Contract host ---
	srv := server.New(base, inv, cfg.Custody.ContractID, contract.Config{
		BaseToken:           cfg.Contract.BaseToken,
		AdminID:             cfg.Contract.AdminID,
		AdminName:           cfg.Contract.AdminName,
		ContractAccountID:   cfg.Contract.AccountID,
		ContractAccountName: cfg.Contract.AccountName,
	}, pubs)
	if cfg.Custody.Mode == "memory" && cfg.Custody.Faucet != "" {
		srv.SetFaucet(decimal.RequireFromString(cfg.Custody.Faucet))
	}
	srv.SetTrustCallerHeader(cfg.Server.TLSClientCAFile == "")

	if resp := srv.Init(ctx); !resp.OK {
		return fmt.Errorf("contract init: %s (%s)", resp.Error, resp.Code)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"futurebureau"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The websocket route must stay outside the request timeout.
		r.Get("/ws", hub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			srv.Routes(r)
		})
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.Server.TLSClientCAFile != "" {
		tc, err := clientAuthTLS(cfg.Server.TLSClientCAFile)
		if err != nil {
			return err
		}
		httpSrv.TLSConfig = tc
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("futurebureau listening",
			"port", cfg.Server.Port,
			"ledger", cfg.Ledger.Backend,
			"custody", cfg.Custody.Mode,
			"tls", cfg.Server.TLSCertFile != "",
		)
		var err error
		if cfg.Server.TLSCertFile != "" {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if server.IsClosed(err) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down futurebureau...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Ledger, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		pl := ledger.NewPostgresLedger(pool)
		if err := pl.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return pl, pool.Close, nil

	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		slog.Info("connected to Redis", "prefix", cfg.RedisPrefix)
		return ledger.NewRedisLedger(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil

	default:
		slog.Warn("using in-memory ledger (data will not persist)")
		return ledger.NewMemoryLedger(), func() {}, nil
	}
}

func openCustody(cfg config.CustodyConfig, baseToken string) (custody.Invoker, error) {
	if cfg.Mode == "http" {
		slog.Info("using remote custody contract", "url", cfg.URL, "contract", cfg.ContractID)
		return custody.NewHTTPInvoker(cfg.URL, cfg.APIKey, cfg.Timeout.Duration), nil
	}
	pct, err := decimal.NewFromString(cfg.GasPercentage)
	if err != nil {
		return nil, fmt.Errorf("gas_percentage: %w", err)
	}
	gasMin, err := decimal.NewFromString(cfg.GasMin)
	if err != nil {
		return nil, fmt.Errorf("gas_min: %w", err)
	}
	inv := custody.NewMemoryInvoker()
	inv.SetTokenInfo(custody.TokenInfo{
		Name:          baseToken,
		Symbol:        baseToken,
		Decimals:      cfg.TokenDecimals,
		GasPercentage: pct,
		GasMin:        gasMin,
	})
	slog.Warn("using in-process custody contract (balances will not persist)", "token", baseToken)
	return inv, nil
}

func clientAuthTLS(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA %s: no certificates found", caFile)
	}
	return &tls.Config{
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// cors allows cross-origin requests from the configured origins.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+server.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
