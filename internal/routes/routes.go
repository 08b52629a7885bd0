package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nile-pay/nile_pay/internal/config"
	"github.com/nile-pay/nile_pay/internal/currency"
	"github.com/nile-pay/nile_pay/internal/ledger"
	"github.com/nile-pay/nile_pay/internal/metrics"
	"github.com/nile-pay/nile_pay/internal/middleware"
	"github.com/nile-pay/nile_pay/internal/notification"
	"github.com/nile-pay/nile_pay/internal/uow"
	"github.com/nile-pay/nile_pay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// Setup configures middlewares and all application routes. Without a
// database the stores fall back to memory, which is only allowed in
// development.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	reg := d.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics(metrics.NewHTTP(reg)))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(reg)))

	// Services and handlers
	converter, err := currency.NewConverter(d.Cfg.FXRates)
	if err != nil {
		return err
	}

	var (
		runner     uow.Runner
		walletRepo wallet.Repository
		txStore    ledger.Store
	)
	if d.DB != nil {
		runner = uow.NewPostgresRunner(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		txStore = ledger.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory stores")
		runner = uow.NewMemoryRunner()
		walletRepo = wallet.NewMemoryRepository()
		txStore = ledger.NewInMemory()
	}

	var walletCache wallet.Cache
	if d.Cache != nil {
		walletCache = wallet.NewRedisCache(d.Cache, d.Cfg.WalletCacheTTL)
	}
	walletSvc := wallet.NewService(walletRepo, walletCache, d.Logger)

	processor, err := ledger.NewProcessor(ledger.Deps{
		Runner:       runner,
		Wallets:      walletRepo,
		Transactions: txStore,
		Converter:    converter,
		Notifier:     notification.NewLoggerNotifier(d.Logger),
		Cache:        walletSvc,
		Metrics:      metrics.NewLedger(reg),
		Logger:       d.Logger,
	})
	if err != nil {
		return err
	}

	// API routes
	api := app.Group("/api/v1")
	if d.Cache != nil {
		api.Use(middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, time.Minute, d.Logger))
	}
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	idem := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idem = middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:    d.Cache,
			TTL:      d.Cfg.IdempotencyTTL,
			Logger:   d.Logger,
			Optional: true,
		})
	}

	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc), idem)
	RegisterLedgerRoutes(api, ledger.NewHandler(processor))

	return nil
}

// ErrorHandler renders handler errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		msg = fe.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
