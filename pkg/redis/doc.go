// Package redis connects tierkit to Redis through go-redis v9.
//
// Connect parses a redis:// URL, pings with retries and returns a ready
// client; Healthcheck wraps PING for readiness checks. The client is handed
// to kv.NewRedisStore, which keeps tenant state in one hash per key and
// relies on WATCH/MULTI for optimistic concurrency.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := kv.NewRedisStore(client, cfg.KeyPrefix)
package redis
