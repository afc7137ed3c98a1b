package config

// Application constants
const (
	AppName = "Betfair Intake"

	// Export and download endpoints are rooted here.
	APIBasePath       = "/api"
	HealthEndpoint    = "/health"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"

	// Per-request multipart memory before spilling to temp files.
	MultipartMemoryBytes = 32 << 20
)
