// Package kv is the durable, versioned key-value layer tenant state lives in.
//
// Every record carries a monotonic version. Writers never overwrite blindly:
// Put succeeds only when the caller's expected version still matches, so two
// processes racing on the same tenant (a redirect callback and a webhook
// push, or two concurrent token reservations) cannot lose each other's
// updates. Update wraps the read-modify-write cycle and retries version
// conflicts with jittered exponential backoff.
//
// Backends:
//
//   - NewMemoryStore: process-local, for tests and single-instance setups.
//   - NewPostgresStore: pgx pool, conditional UPDATE on the version column.
//   - NewRedisStore: go-redis WATCH/MULTI on a hash per key.
//   - NewMongoStore: mongo-driver v2, version-filtered UpdateOne.
//
// Values are JSON documents; Update handles encoding.
package kv
