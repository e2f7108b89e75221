package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/tierkit/pkg/api"
	"github.com/dmitrymomot/tierkit/pkg/billing/fake"
	"github.com/dmitrymomot/tierkit/pkg/billing/paddle"
	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/httpserver"
	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/mongo"
	"github.com/dmitrymomot/tierkit/pkg/pg"
	"github.com/dmitrymomot/tierkit/pkg/redis"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tokens"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverRedis    = "redis"
	driverMongo    = "mongo"

	providerPaddle = "paddle"
	providerFake   = "fake"
)

var (
	errUnknownStoreDriver     = errors.New("unknown STORE_DRIVER")
	errUnknownBillingProvider = errors.New("unknown BILLING_PROVIDER")
)

type appConfig struct {
	Env             string   `env:"APP_ENV" envDefault:"development"`
	StoreDriver     string   `env:"STORE_DRIVER" envDefault:"memory"`
	BillingProvider string   `env:"BILLING_PROVIDER" envDefault:"paddle"`
	PlansFile       string   `env:"PLANS_FILE" envDefault:"plans.yaml"`
	ExemptTenants   []string `env:"EXEMPT_TENANTS" envSeparator:","`
	// CallbackURL is the return URL handed to the billing authority,
	// normally this service's /billing/callback.
	CallbackURL string `env:"TIERKIT_CALLBACK_URL"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// app holds the wired services of one process.
type app struct {
	cfg    appConfig
	log    *slog.Logger
	store  kv.Store
	svc    subscription.Service
	ledger tokens.Ledger
	paddle *paddle.Provider
	checks map[string]httpserver.Check
	closer []func(context.Context) error
}

func newLogger(env string) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(env, "tierkit"),
		logger.WithContextExtractors(subscription.TenantLogExtractor(), api.RequestIDLogExtractor()),
	)
}

func bootstrap(ctx context.Context) (*app, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		log:    newLogger(cfg.Env),
		checks: make(map[string]httpserver.Check),
	}
	logger.SetAsDefault(a.log)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	authority, err := a.billingAuthority()
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	src := subscription.NewYAMLFileSource(cfg.PlansFile)
	plans, err := src.Load(ctx)
	if err != nil {
		a.close(ctx)
		return nil, errors.Join(subscription.ErrFailedToLoadPlans, err)
	}
	catalog, err := subscription.NewCatalog(plans)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.ledger = tokens.NewLedger(a.store,
		tokens.WithLogger(a.log),
		tokens.WithUpgradeAdvisor(tokens.UpgradeAdvisor(subscription.NewUpgradeAdvisor(catalog, a.store))),
	)

	opts := []subscription.ServiceOption{subscription.WithLogger(a.log)}
	if len(cfg.ExemptTenants) > 0 {
		opts = append(opts, subscription.WithExemption(subscription.ExemptList(cfg.ExemptTenants...)))
	}
	if cfg.CallbackURL != "" {
		opts = append(opts, subscription.WithDefaultReturnURL(cfg.CallbackURL))
	}
	a.svc, err = subscription.NewService(ctx, subscription.NewInMemSource(catalog.Plans()...), authority, a.store, a.ledger, opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case driverMemory:
		a.log.WarnContext(ctx, "using in-memory store, state is lost on restart")
		a.store = kv.NewMemoryStore()

	case driverPostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		a.store = kv.NewPostgresStore(pool, cfg.StateTable)
		a.checks["postgres"] = pg.Healthcheck(pool)
		a.closer = append(a.closer, func(context.Context) error { pool.Close(); return nil })

	case driverRedis:
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		a.store = kv.NewRedisStore(client, cfg.KeyPrefix)
		a.checks["redis"] = redis.Healthcheck(client)
		a.closer = append(a.closer, func(context.Context) error { return client.Close() })

	case driverMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		client, coll, err := mongo.StateCollection(ctx, cfg)
		if err != nil {
			return err
		}
		a.store = kv.NewMongoStore(coll)
		a.checks["mongo"] = mongo.Healthcheck(client)
		a.closer = append(a.closer, client.Disconnect)

	default:
		return fmt.Errorf("%w: %q", errUnknownStoreDriver, a.cfg.StoreDriver)
	}
	a.log.InfoContext(ctx, "state store ready", slog.String("driver", a.cfg.StoreDriver))
	return nil
}

func (a *app) billingAuthority() (subscription.BillingAuthority, error) {
	switch a.cfg.BillingProvider {
	case providerPaddle:
		var cfg paddle.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		p, err := paddle.New(cfg)
		if err != nil {
			return nil, err
		}
		a.paddle = p
		return p, nil
	case providerFake:
		a.log.Warn("using fake billing authority, approvals are never charged")
		return fake.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownBillingProvider, a.cfg.BillingProvider)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](ctx); err != nil {
			a.log.ErrorContext(ctx, "failed to close resource", logger.Error(err))
		}
	}
	a.closer = nil
}
