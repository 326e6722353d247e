package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
)

const nodeExporterFixture = `# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} 70
node_cpu_seconds_total{cpu="0",mode="system"} 5
node_cpu_seconds_total{cpu="0",mode="user"} 25
node_cpu_seconds_total{cpu="1",mode="idle"} 70
node_cpu_seconds_total{cpu="1",mode="system"} 10
node_cpu_seconds_total{cpu="1",mode="user"} 20
# HELP node_load1 1m load average.
# TYPE node_load1 gauge
node_load1 3
# HELP node_load5 5m load average.
# TYPE node_load5 gauge
node_load5 2.2
# HELP node_load15 15m load average.
# TYPE node_load15 gauge
node_load15 1
# HELP node_memory_MemAvailable_bytes Memory information field MemAvailable_bytes.
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 100
# HELP node_memory_MemTotal_bytes Memory information field MemTotal_bytes.
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 1000
# HELP node_filesystem_avail_bytes Filesystem space available to non-root users in bytes.
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 900
node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 5.36870912e+10
# HELP node_filesystem_size_bytes Filesystem size in bytes.
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 1000
node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 1.073741824e+11
node_netstat_Tcp_CurrEstab 12
`

func newFixtureServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrometheusCollector_Collect(t *testing.T) {
	srv := newFixtureServer(t, http.StatusOK, nodeExporterFixture)
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := NewPrometheusCollector(srv.URL, zap.NewNop())
	c.now = func() time.Time { return captured }

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, captured, snap.CapturedAt)

	cpu, ok := snap.Metric("cpu_usage_percent")
	require.True(t, ok)
	assert.InDelta(t, 30.0, cpu.Value, 0.001)
	assert.Equal(t, models.LevelNormal, cpu.Level)
	require.NotNil(t, cpu.Threshold)
	assert.Equal(t, 80.0, *cpu.Threshold)

	mem, ok := snap.Metric("memory_usage_percent")
	require.True(t, ok)
	assert.InDelta(t, 90.0, mem.Value, 0.001)
	assert.Equal(t, models.LevelWarning, mem.Level)

	used, ok := snap.Metric("memory_used_bytes")
	require.True(t, ok)
	assert.Equal(t, 900.0, used.Value)
	assert.Nil(t, used.Threshold)

	disk, ok := snap.Metric("disk_usage_percent")
	require.True(t, ok)
	assert.InDelta(t, 50.0, disk.Value, 0.001, "root mountpoint preferred over /run")

	total, ok := snap.Metric("disk_total_gb")
	require.True(t, ok)
	assert.InDelta(t, 100.0, total.Value, 0.001)

	tcp, ok := snap.Metric("tcp_connections")
	require.True(t, ok)
	assert.Equal(t, 12.0, tcp.Value)

	load1, _ := snap.Metric("load_1m")
	assert.Equal(t, models.LevelCritical, load1.Level)

	require.Len(t, snap.Alerts, 3)
	assert.Equal(t, "load_1m", snap.Alerts[0].MetricName)
	assert.Equal(t, models.LevelCritical, snap.Alerts[0].Level)
	assert.Equal(t, "load_5m", snap.Alerts[1].MetricName)
	assert.Equal(t, models.LevelWarning, snap.Alerts[1].Level)
	assert.Equal(t, "memory_usage_percent", snap.Alerts[2].MetricName)
	assert.Equal(t, models.LevelWarning, snap.Alerts[2].Level)
	assert.Equal(t, "Memory usage too high: 90.0%", snap.Alerts[2].Message)
	assert.NotEmpty(t, snap.Alerts[2].SuggestedActions)
}

func TestPrometheusCollector_CustomThresholds(t *testing.T) {
	srv := newFixtureServer(t, http.StatusOK, nodeExporterFixture)
	c := NewPrometheusCollector(srv.URL, nil)
	c.Thresholds.CPUPercent = 20

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	cpu, _ := snap.Metric("cpu_usage_percent")
	assert.Equal(t, models.LevelCritical, cpu.Level, "30 > 1.2 * 20")
}

func TestPrometheusCollector_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  func(t *testing.T) string
	}{
		{
			name: "bad status",
			url: func(t *testing.T) string {
				return newFixtureServer(t, http.StatusInternalServerError, "boom").URL
			},
		},
		{
			name: "malformed body",
			url: func(t *testing.T) string {
				return newFixtureServer(t, http.StatusOK, "node_load1{ 3\n").URL
			},
		},
		{
			name: "unreachable",
			url: func(t *testing.T) string {
				srv := httptest.NewServer(http.NotFoundHandler())
				u := srv.URL
				srv.Close()
				return u
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPrometheusCollector(tt.url(t), nil)
			_, err := c.Collect(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrCollectionFailed))
		})
	}
}

func TestPrometheusCollector_MissingFamilies(t *testing.T) {
	srv := newFixtureServer(t, http.StatusOK, "node_load1 0.5\n")
	c := NewPrometheusCollector(srv.URL, nil)

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Payload, 1)
	assert.Empty(t, snap.Alerts)
}

func TestDetectAlerts(t *testing.T) {
	th := 80.0
	payload := map[string]models.Metric{
		"cpu_usage_percent": {Name: "cpu_usage_percent", Value: 96.5, Threshold: &th},
		"exact":             {Name: "exact", Value: 80, Threshold: &th},
		"nothreshold":       {Name: "nothreshold", Value: 1e9},
		"custom":            {Name: "custom", Value: 81, Threshold: &th},
	}

	alerts := DetectAlerts(payload)
	require.Len(t, alerts, 2)

	assert.Equal(t, "cpu_usage_percent", alerts[0].MetricName)
	assert.Equal(t, models.LevelCritical, alerts[0].Level)
	assert.Equal(t, "CPU usage too high: 96.5%", alerts[0].Message)

	assert.Equal(t, "custom", alerts[1].MetricName)
	assert.Equal(t, models.LevelWarning, alerts[1].Level)
	assert.Equal(t, "Metric custom abnormal: 81", alerts[1].Message)
	assert.Equal(t, []string{"Check overall system state", "Contact the system administrator"}, alerts[1].SuggestedActions)
}
