// Package metrics holds the process-wide Prometheus collectors for tierkit.
//
// Collectors are registered with the default registry on import, so the
// handler returned by promhttp.Handler exposes them without extra wiring.
package metrics
