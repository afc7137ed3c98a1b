package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"bfintake/internal/config"
	"bfintake/internal/shared/testutil"
	"bfintake/pkg/contracts/domain"
)

func TestInitializeOTel_MetricsOnly(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := InitializeOTel(config.TelemetryConfig{
		ServiceName:    "bfintake-test",
		ServiceVersion: "test",
		Environment:    "test",
		MetricsEnabled: true,
	}, logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer, "noop tracer when tracing is off")
	require.NotNil(t, providers.MeterProvider)

	metrics, err := NewPipelineMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RecordFile(context.Background(), "parse", "success", time.Second, 3, 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "intake_files_processed_total"))
}

func TestInitializeOTel_Disabled(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{ServiceName: "x"}, nil)
	require.NoError(t, err)

	assert.Nil(t, providers.MeterProvider)
	_, err = NewPipelineMetrics(providers.Meter)
	assert.NoError(t, err, "noop meter still hands out instruments")
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestPipelineMetrics_NilSafe(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.RecordFile(context.Background(), "parse", "failed", time.Millisecond, 0, 0)
		m.RecordIngest(context.Background(), 10)
	})
}

func TestRegisterCacheGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	_, err := RegisterCacheGauges(mp.Meter("test"), func(context.Context) (domain.CacheStatus, error) {
		return domain.CacheStatus{
			domain.StageUploaded: {Count: 2, TotalSizeBytes: 300},
			domain.StageParsed:   {Count: 1, TotalSizeBytes: 50},
		}, nil
	})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range gauge.DataPoints {
				stage, _ := dp.Attributes.Value("stage")
				got[m.Name+"/"+stage.AsString()] = dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), got["intake_cache_entries/uploaded"])
	assert.Equal(t, int64(300), got["intake_cache_bytes/uploaded"])
	assert.Equal(t, int64(1), got["intake_cache_entries/parsed"])
}
