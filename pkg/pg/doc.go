// Package pg bootstraps the PostgreSQL backend for tenant state.
//
// Connect opens a pgx/v5 pool with retries, Migrate applies the embedded
// goose migrations (the tenant_state table used by kv.NewPostgresStore),
// and Healthcheck returns a check suitable for readiness endpoints.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//	    return err
//	}
//	store := kv.NewPostgresStore(pool, cfg.StateTable)
package pg
