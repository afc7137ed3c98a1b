package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts"
	"bfintake/pkg/contracts/domain"
)

// StatusProvider reports derived cache sizes.
type StatusProvider interface {
	Status(ctx context.Context) (domain.SystemStatus, error)
}

// ClientCounter reports connected progress clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	buildID   string
	status    StatusProvider
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64            `json:"uptime_seconds"`
	StorageBackend   string             `json:"storage_backend"`
	TotalFiles       int                `json:"total_files"`
	TotalSizeBytes   int64              `json:"total_size_bytes"`
	CacheStatus      domain.CacheStatus `json:"cache_status"`
	WebSocketClients int                `json:"websocket_clients"`
	GoVersion        string             `json:"go_version"`
	OS               string             `json:"os"`
	Arch             string             `json:"arch"`
}

// NewHealthService creates a health service. status and clients may be nil;
// the matching readiness checks then report not_ready.
func NewHealthService(version string, status StatusProvider, clients ClientCounter, logger *slog.Logger) *HealthService {
	return NewHealthServiceWithBuildInfo(version, contracts.BuildTime, contracts.GitCommit, status, clients, logger)
}

// NewHealthServiceWithBuildInfo creates a new health service with build information
func NewHealthServiceWithBuildInfo(version, buildTime, buildID string, status StatusProvider, clients ClientCounter, logger *slog.Logger) *HealthService {
	logger = infrastructure.WithComponent(logger, "health_service")
	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime),
		slog.String("build_id", buildID))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		buildID:   buildID,
		status:    status,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "HealthCheck: performing health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"storage":   hs.checkStorageHealth(ctx),
			"websocket": hs.checkWebSocketHealth(),
		},
	}

	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	result := map[string]interface{}{
		"version":      hs.version,
		"api_version":  info.APIVersion,
		"data_format":  info.DataFormat,
		"go_version":   info.GoVersion,
		"platform":     info.Platform,
		"git_commit":   info.GitCommit,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}

	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	if hs.buildID != "" {
		result["build_id"] = hs.buildID
	}
	return result
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) (SystemStats, error) {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
	if hs.clients != nil {
		stats.WebSocketClients = hs.clients.ClientCount()
	}
	if hs.status == nil {
		return stats, nil
	}

	sys, err := hs.status.Status(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read cache status: %w", err)
	}
	stats.StorageBackend = sys.StorageBackend
	stats.CacheStatus = sys.CacheStatus
	for _, st := range sys.CacheStatus {
		stats.TotalFiles += st.Count
		stats.TotalSizeBytes += st.TotalSizeBytes
	}
	return stats, nil
}

func (hs *HealthService) checkStorageHealth(ctx context.Context) ServiceHealth {
	if hs.status == nil {
		return ServiceHealth{Status: "not_ready", Message: "file cache not initialized"}
	}
	sys, err := hs.status.Status(ctx)
	if err != nil {
		hs.logger.WarnContext(ctx, "Storage readiness check failed",
			slog.String("error", err.Error()))
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("Storage error: %v", err),
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%s storage is healthy", sys.StorageBackend),
	}
}

func (hs *HealthService) checkWebSocketHealth() ServiceHealth {
	if hs.clients == nil {
		return ServiceHealth{Status: "not_ready", Message: "WebSocket hub not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.clients.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}
