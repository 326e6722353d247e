package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/models"
)

// Collector captures a metrics snapshot from a monitored node.
type Collector interface {
	Collect(ctx context.Context) (*models.MetricsSnapshot, error)
}

// Thresholds are the alerting limits applied to derived metrics.
type Thresholds struct {
	CPUPercent    float64 `mapstructure:"cpu_usage" yaml:"cpu_usage"`
	MemoryPercent float64 `mapstructure:"memory_usage" yaml:"memory_usage"`
	DiskPercent   float64 `mapstructure:"disk_usage" yaml:"disk_usage"`
	LoadAverage   float64 `mapstructure:"load_average" yaml:"load_average"`
	Connections   float64 `mapstructure:"connection_count" yaml:"connection_count"`
}

// DefaultThresholds returns the stock alerting limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    80,
		MemoryPercent: 85,
		DiskPercent:   90,
		LoadAverage:   2.0,
		Connections:   1000,
	}
}

// criticalFactor scales a threshold into the critical band.
const criticalFactor = 1.2

// PrometheusCollector scrapes a node_exporter text endpoint.
type PrometheusCollector struct {
	URL        string
	Client     *http.Client
	Thresholds Thresholds

	logger *zap.Logger
	now    func() time.Time
}

// NewPrometheusCollector returns a collector for the given scrape URL.
func NewPrometheusCollector(url string, logger *zap.Logger) *PrometheusCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrometheusCollector{
		URL:        url,
		Client:     &http.Client{Timeout: 30 * time.Second},
		Thresholds: DefaultThresholds(),
		logger:     logger,
		now:        time.Now,
	}
}

// Collect scrapes, parses and derives a snapshot. Any failure wraps
// models.ErrCollectionFailed.
func (c *PrometheusCollector) Collect(ctx context.Context) (*models.MetricsSnapshot, error) {
	start := c.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrCollectionFailed, err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: scrape %s: %v", models.ErrCollectionFailed, c.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: scrape %s: status %d", models.ErrCollectionFailed, c.URL, resp.StatusCode)
	}

	families, err := parseFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", models.ErrCollectionFailed, err)
	}

	snap := c.derive(families, c.now())
	c.logger.Debug("collected metrics",
		zap.String("url", c.URL),
		zap.Int("metrics", len(snap.Payload)),
		zap.Int("alerts", len(snap.Alerts)),
		zap.Duration("elapsed", c.now().Sub(start)),
	)
	return snap, nil
}

func parseFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, expfmt.NewFormat(expfmt.TypeTextPlain))
	out := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		out[mf.GetName()] = mf
	}
	return out, nil
}

// derive turns raw node_exporter families into the snapshot payload and
// raises alerts against the thresholds.
func (c *PrometheusCollector) derive(fams map[string]*dto.MetricFamily, at time.Time) *models.MetricsSnapshot {
	payload := make(map[string]models.Metric)
	t := c.Thresholds

	add := func(name string, value float64, unit string, threshold *float64) {
		m := models.Metric{Name: name, Value: value, Unit: unit, Threshold: threshold, Level: models.LevelNormal}
		if threshold != nil {
			m.Level = levelFor(value, *threshold)
		}
		payload[name] = m
	}

	if idle, total, ok := cpuSeconds(fams["node_cpu_seconds_total"]); ok && total > 0 {
		usage := 100 - idle/total*100
		if usage < 0 {
			usage = 0
		}
		add("cpu_usage_percent", usage, "percent", ptr(t.CPUPercent))
	}

	for _, l := range []struct{ family, name string }{
		{"node_load1", "load_1m"},
		{"node_load5", "load_5m"},
		{"node_load15", "load_15m"},
	} {
		if v, ok := firstValue(fams[l.family], nil); ok {
			add(l.name, v, "load", ptr(t.LoadAverage))
		}
	}

	total, okTotal := firstValue(fams["node_memory_MemTotal_bytes"], nil)
	avail, okAvail := firstValue(fams["node_memory_MemAvailable_bytes"], nil)
	if okTotal && okAvail && total > 0 {
		used := total - avail
		add("memory_total_bytes", total, "bytes", nil)
		add("memory_used_bytes", used, "bytes", nil)
		add("memory_available_bytes", avail, "bytes", nil)
		add("memory_usage_percent", used/total*100, "percent", ptr(t.MemoryPercent))
	}

	if size, free, ok := rootFilesystem(fams); ok && size > 0 {
		used := size - free
		add("disk_usage_percent", used/size*100, "percent", ptr(t.DiskPercent))
		add("disk_used_gb", used/(1<<30), "GB", nil)
		add("disk_total_gb", size/(1<<30), "GB", nil)
	}

	if v, ok := firstValue(fams["node_netstat_Tcp_CurrEstab"], nil); ok {
		add("tcp_connections", v, "count", ptr(t.Connections))
	}

	return &models.MetricsSnapshot{
		Payload:    payload,
		Alerts:     DetectAlerts(payload),
		CapturedAt: at,
	}
}

// DetectAlerts raises an alert for every metric above its threshold; values
// beyond 1.2x the threshold are critical. Alerts are ordered by metric name.
func DetectAlerts(payload map[string]models.Metric) []models.Alert {
	var alerts []models.Alert
	for _, name := range slices.Sorted(maps.Keys(payload)) {
		m := payload[name]
		if m.Threshold == nil || *m.Threshold <= 0 || m.Value <= *m.Threshold {
			continue
		}
		alerts = append(alerts, models.Alert{
			MetricName:       m.Name,
			Level:            levelFor(m.Value, *m.Threshold),
			Message:          alertMessage(m),
			Value:            m.Value,
			Threshold:        *m.Threshold,
			SuggestedActions: suggestedActions(m.Name),
		})
	}
	return alerts
}

func levelFor(value, threshold float64) models.AlertLevel {
	switch {
	case value > threshold*criticalFactor:
		return models.LevelCritical
	case value > threshold:
		return models.LevelWarning
	default:
		return models.LevelNormal
	}
}

func alertMessage(m models.Metric) string {
	switch m.Name {
	case "cpu_usage_percent":
		return fmt.Sprintf("CPU usage too high: %.1f%%", m.Value)
	case "memory_usage_percent":
		return fmt.Sprintf("Memory usage too high: %.1f%%", m.Value)
	case "disk_usage_percent":
		return fmt.Sprintf("Disk usage too high: %.1f%%", m.Value)
	case "load_1m", "load_5m", "load_15m":
		return fmt.Sprintf("System load too high: %.2f", m.Value)
	case "tcp_connections":
		return fmt.Sprintf("Too many TCP connections: %d", int(m.Value))
	}
	return fmt.Sprintf("Metric %s abnormal: %g", m.Name, m.Value)
}

var actionsByMetric = map[string][]string{
	"cpu_usage_percent": {
		"Inspect the processes with the highest CPU usage",
		"Consider stopping non-essential processes",
		"Check for runaway compute jobs",
	},
	"memory_usage_percent": {
		"Inspect the processes with the highest memory usage",
		"Drop the page cache",
		"Consider restarting services that leak memory",
	},
	"disk_usage_percent": {
		"Clean up temporary files",
		"Remove or rotate old log files",
		"Find and remove large files",
	},
	"load_1m": {
		"Find the cause of the high load",
		"Review running processes",
		"Consider tuning system configuration",
	},
	"tcp_connections": {
		"Check network connection states",
		"Look for abnormal connections",
		"Consider tuning network parameters",
	},
}

func suggestedActions(name string) []string {
	if a, ok := actionsByMetric[name]; ok {
		return append([]string(nil), a...)
	}
	return []string{"Check overall system state", "Contact the system administrator"}
}

// cpuSeconds sums idle and total CPU seconds across every core and mode.
func cpuSeconds(mf *dto.MetricFamily) (idle, total float64, ok bool) {
	if mf == nil {
		return 0, 0, false
	}
	for _, m := range mf.GetMetric() {
		v := sampleValue(m)
		total += v
		if label(m, "mode") == "idle" {
			idle += v
			ok = true
		}
	}
	return idle, total, ok
}

// rootFilesystem prefers the "/" mountpoint and falls back to the first
// non-rootfs filesystem.
func rootFilesystem(fams map[string]*dto.MetricFamily) (size, free float64, ok bool) {
	sizes := fams["node_filesystem_size_bytes"]
	frees := fams["node_filesystem_avail_bytes"]
	if frees == nil {
		frees = fams["node_filesystem_free_bytes"]
	}
	if sizes == nil || frees == nil {
		return 0, 0, false
	}

	var fallback *dto.Metric
	for _, m := range sizes.GetMetric() {
		if label(m, "fstype") == "rootfs" {
			continue
		}
		if label(m, "mountpoint") == "/" {
			fallback = m
			break
		}
		if fallback == nil {
			fallback = m
		}
	}
	if fallback == nil {
		return 0, 0, false
	}
	mount := label(fallback, "mountpoint")
	device := label(fallback, "device")
	f, found := firstValue(frees, func(m *dto.Metric) bool {
		return label(m, "mountpoint") == mount && label(m, "device") == device
	})
	if !found {
		return 0, 0, false
	}
	return sampleValue(fallback), f, true
}

func firstValue(mf *dto.MetricFamily, match func(*dto.Metric) bool) (float64, bool) {
	if mf == nil {
		return 0, false
	}
	for _, m := range mf.GetMetric() {
		if match == nil || match(m) {
			return sampleValue(m), true
		}
	}
	return 0, false
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func ptr(v float64) *float64 { return &v }
