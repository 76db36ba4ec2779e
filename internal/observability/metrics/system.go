// Package metrics provides host resource metrics for observability
package metrics

import (
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics reports host CPU, memory and disk usage. Values are read
// from the host at scrape time.
type SystemMetrics struct {
	mu        sync.RWMutex
	diskPaths []string

	cpuUsage    *prometheus.Desc
	memoryUsage *prometheus.Desc
	diskUsage   *prometheus.Desc
	diskFree    *prometheus.Desc
	readErrors  prometheus.Counter
}

// NewSystemMetrics creates and registers the host resource collector
func NewSystemMetrics(registry *prometheus.Registry) (*SystemMetrics, error) {
	m := &SystemMetrics{
		cpuUsage: prometheus.NewDesc(
			"markertrack_host_cpu_usage_percent",
			"Host CPU usage since the previous scrape",
			nil, nil),
		memoryUsage: prometheus.NewDesc(
			"markertrack_host_memory_usage_percent",
			"Host virtual memory in use",
			nil, nil),
		diskUsage: prometheus.NewDesc(
			"markertrack_host_disk_usage_percent",
			"Disk usage of the file system holding a watched path",
			[]string{"path"}, nil),
		diskFree: prometheus.NewDesc(
			"markertrack_host_disk_free_bytes",
			"Free bytes on the file system holding a watched path",
			[]string{"path"}, nil),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "markertrack_host_read_errors_total",
			Help: "Failed host resource reads",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register system metrics: %w", err)
	}
	return m, nil
}

// WatchDisk adds a path whose file system usage is reported
func (m *SystemMetrics) WatchDisk(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.diskPaths, path) {
		m.diskPaths = append(m.diskPaths, path)
	}
}

// Describe implements the prometheus.Collector interface
func (m *SystemMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.cpuUsage
	ch <- m.memoryUsage
	ch <- m.diskUsage
	ch <- m.diskFree
	m.readErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *SystemMetrics) Collect(ch chan<- prometheus.Metric) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		ch <- prometheus.MustNewConstMetric(m.cpuUsage, prometheus.GaugeValue, percents[0])
	} else {
		m.readErrors.Inc()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		ch <- prometheus.MustNewConstMetric(m.memoryUsage, prometheus.GaugeValue, vm.UsedPercent)
	} else {
		m.readErrors.Inc()
	}

	m.mu.RLock()
	paths := slices.Clone(m.diskPaths)
	m.mu.RUnlock()

	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			m.readErrors.Inc()
			continue
		}
		ch <- prometheus.MustNewConstMetric(m.diskUsage, prometheus.GaugeValue, usage.UsedPercent, path)
		ch <- prometheus.MustNewConstMetric(m.diskFree, prometheus.GaugeValue, float64(usage.Free), path)
	}

	m.readErrors.Collect(ch)
}
