// Package services holds the service-layer pieces that sit beside the intake
// pipeline rather than inside it.
//
// HealthService answers liveness, readiness and version probes. Readiness
// reads the cache status through a StatusProvider, so a storage backend that
// cannot list its stages reports not_ready instead of failing the probe.
//
// Example:
//
//	health := services.NewHealthService(contracts.Version, pipeline, hub, logger)
//	status := health.ReadinessCheck(ctx)
package services
