// Package app assembles the process: storage, event sinks, services and the
// HTTP router.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/casino-ledger/internal/admin"
	"github.com/attaboy/casino-ledger/internal/auth"
	"github.com/attaboy/casino-ledger/internal/catalog"
	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/attaboy/casino-ledger/internal/events"
	"github.com/attaboy/casino-ledger/internal/game"
	"github.com/attaboy/casino-ledger/internal/game/blackjack"
	"github.com/attaboy/casino-ledger/internal/game/slots"
	"github.com/attaboy/casino-ledger/internal/guard"
	"github.com/attaboy/casino-ledger/internal/handler"
	"github.com/attaboy/casino-ledger/internal/infra"
	"github.com/attaboy/casino-ledger/internal/ledger"
	"github.com/attaboy/casino-ledger/internal/projection"
	"github.com/attaboy/casino-ledger/internal/repository"
	"github.com/attaboy/casino-ledger/internal/session"
	"github.com/attaboy/casino-ledger/internal/settlement"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Services are the core operations, sharing one store and one event sink.
type Services struct {
	Ledger     *ledger.Engine
	Sessions   *session.Service
	Catalog    *catalog.Service
	Settlement *settlement.Service
	Admin      *admin.Service
}

// NewRegistry maps every supported game type to its round engine.
func NewRegistry() *game.Registry {
	return game.NewRegistry(map[domain.GameType]game.RoundEngine{
		domain.GameSlot: slots.New(),
		domain.GameCard: blackjack.New(),
	})
}

// NewServices wires the core services over store. Events go to sink after
// each commit.
func NewServices(store repository.Store, sink events.Sink, logger *slog.Logger, opts ...settlement.Option) *Services {
	eng := ledger.NewEngine(store, sink, logger)
	sessions := session.NewService(eng, logger)
	return &Services{
		Ledger:     eng,
		Sessions:   sessions,
		Catalog:    catalog.NewService(eng, sessions, logger),
		Settlement: settlement.NewService(eng, sessions, NewRegistry(), logger, opts...),
		Admin:      admin.NewService(eng, logger),
	}
}

// Storage is an opened store plus what health checks and shutdown need.
type Storage struct {
	Store  repository.Store
	Pinger infra.Pinger
	Close  func()
}

// OpenStorage connects to Postgres and applies migrations, or builds the
// in-memory store when cfg selects it. appName tags the Postgres sessions.
func OpenStorage(ctx context.Context, cfg *infra.Config, appName string, logger *slog.Logger) (*Storage, error) {
	if cfg.StorageDriver == infra.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		return &Storage{Store: repository.NewMemoryStore(), Close: func() {}}, nil
	}

	if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	pool, err := infra.NewPostgresPool(ctx, cfg, appName)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &Storage{Store: repository.NewPgStore(pool), Pinger: pool, Close: pool.Close}, nil
}

// App is the assembled API process.
type App struct {
	Services   *Services
	Router     chi.Router
	Dispatcher *infra.Dispatcher
	Balances   *projection.BalanceSink
	Hub        *infra.WSHub

	closers []func()
}

// Close releases storage, cache and broker connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build assembles the API process from configuration. The caller runs
// Dispatcher.Run and Balances.Run and serves Router.
func Build(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (*App, error) {
	storage, err := OpenStorage(ctx, cfg, "casino-ledger-api", logger)
	if err != nil {
		return nil, err
	}
	app := &App{closers: []func(){storage.Close}}
	health := map[string]infra.Pinger{}
	if storage.Pinger != nil {
		health["database"] = storage.Pinger
	}

	var balances projection.Store
	if cfg.RedisEnabled {
		rs, err := projection.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		balances = rs
		health["redis"] = rs
		app.closers = append(app.closers, func() { _ = rs.Close() })
	} else {
		balances = projection.NewInMemoryStore()
	}

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	app.closers = append(app.closers, func() { _ = producer.Close() })
	app.Dispatcher = infra.NewDispatcher(producer, guard.NewCircuitBreaker(5, 30*time.Second),
		cfg.KafkaTopicPrefix, cfg.EventBufferSize, logger)
	app.Balances = projection.NewBalanceSink(balances, cfg.EventBufferSize, logger)
	app.Hub = infra.NewWSHub(cfg.CORSAllowedOrigins, logger)

	sink := events.Fanout{
		events.NewLogSink(logger),
		app.Balances,
		app.Hub,
		app.Dispatcher,
	}
	app.Services = NewServices(storage.Store, sink, logger,
		settlement.WithCompensation(cfg.CompensateAttempts, 50*time.Millisecond))

	app.Router = NewRouter(RouterDeps{
		Services:     app.Services,
		JWT:          auth.NewJWTManager(cfg.JWTSecret, cfg.JWTPlayerExpiry, cfg.JWTAdminExpiry),
		Balances:     balances,
		Hub:          app.Hub,
		AdminLimiter: guard.NewRateLimiter(cfg.AdminRateLimit, cfg.AdminRateWindow),
		CORSOrigins:  cfg.CORSAllowedOrigins,
		Health:       health,
		Logger:       logger,
	})
	return app, nil
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services     *Services
	JWT          *auth.JWTManager
	Balances     projection.Store
	Hub          *infra.WSHub
	AdminLimiter *guard.RateLimiter
	CORSOrigins  string
	Health       map[string]infra.Pinger
	Logger       *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	svc := deps.Services
	logger := deps.Logger

	walletHandler := handler.NewWalletHandler(svc.Ledger, deps.Balances, logger)
	sessionHandler := handler.NewSessionHandler(svc.Sessions, svc.Settlement)
	adminHandler := handler.NewAdminHandler(svc.Admin, svc.Ledger, svc.Sessions, svc.Catalog, svc.Settlement)
	wsHandler := handler.NewWSHandler(deps.Hub)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(chimw.RequestID)
	r.Use(handler.EchoRequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(deps.CORSOrigins))
	r.Use(handler.JSONContentType)

	r.Get("/health", handler.HealthHandler(deps.Health))

	// Player-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticatePlayer(deps.JWT))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", walletHandler.GetBalance)
			r.Get("/transactions", walletHandler.GetTransactions)
			r.Post("/withdrawals", walletHandler.Withdraw)
		})

		r.Route("/games/{gameID}/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Start)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/bet", sessionHandler.Bet)
				r.Post("/actions", sessionHandler.Act)
				r.Post("/end", sessionHandler.End)
			})
		})

		r.Get("/ws", wsHandler.Player)
	})

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthenticateAdmin(deps.JWT))
		r.Use(auth.RequireRole(auth.AllAdminRoles()...))
		r.Use(handler.RateLimit(deps.AdminLimiter))

		// Read-only
		r.Get("/accounts/{id}", adminHandler.GetAccount)
		r.Get("/accounts/{id}/transactions", adminHandler.ListTransactions)
		r.Get("/rounds/{roundID}", adminHandler.RoundSummary)
		r.Get("/ws", wsHandler.Monitor)

		// Writes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))

			r.Post("/accounts", adminHandler.OpenAccount)
			r.Post("/accounts/{id}/balance", adminHandler.AdjustBalance)
			r.Post("/accounts/{id}/deposits", adminHandler.Deposit)
			r.Patch("/accounts/{id}/status", adminHandler.SetAccountStatus)
			r.Post("/accounts/{id}/verify", adminHandler.Verify)

			r.Post("/transactions/{id}/reverse", adminHandler.Reverse)
			r.Post("/transactions/{id}/complete", adminHandler.Complete)
			r.Post("/transactions/{id}/cancel", adminHandler.Cancel)

			r.Post("/games", adminHandler.CreateGame)
			r.Patch("/games/{id}/status", adminHandler.SetGameStatus)
			r.Post("/games/{gameID}/sessions/{sessionID}/end", adminHandler.EndSession)
			r.Post("/games/{gameID}/sessions/{sessionID}/suspend", adminHandler.SuspendSession)
			r.Post("/games/{gameID}/sessions/{sessionID}/resume", adminHandler.ResumeSession)
		})
	})

	return r
}
