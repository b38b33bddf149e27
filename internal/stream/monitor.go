package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResourceMetrics contains resource usage information for a process.
type ResourceMetrics struct {
	PID             int           // Process ID
	FileDescriptors int           // Number of open file descriptors
	CPUPercent      float64       // CPU usage in percent of one core, since the previous sample
	MemoryBytes     int64         // Resident memory in bytes
	ThreadCount     int           // Number of threads
	Uptime          time.Duration // Process uptime
	Timestamp       time.Time     // When metrics were collected

	cpuTicks int64 // cumulative utime+stime at Timestamp, for the next delta
}

// ResourceThresholds defines warning and critical thresholds for a
// monitored capture process.
type ResourceThresholds struct {
	FDWarning      int     // File descriptor warning threshold
	FDCritical     int     // File descriptor critical threshold
	CPUWarning     float64 // CPU warning threshold, percent of one core
	CPUCritical    float64 // CPU critical threshold, percent of one core
	MemoryWarning  int64   // Memory warning threshold, bytes
	MemoryCritical int64   // Memory critical threshold, bytes
}

// DefaultThresholds returns thresholds tuned for an ffmpeg screen-capture
// encode: a 1080p x11grab+libx264 session legitimately saturates one core,
// so the CPU thresholds are multi-core, and memory headroom allows the
// encoder's lookahead buffers.
func DefaultThresholds() ResourceThresholds {
	return ResourceThresholds{
		FDWarning:      500,
		FDCritical:     1000,
		CPUWarning:     250.0,
		CPUCritical:    400.0,
		MemoryWarning:  1 * 1024 * 1024 * 1024, // 1 GB
		MemoryCritical: 2 * 1024 * 1024 * 1024, // 2 GB
	}
}

// AlertLevel indicates the severity of a resource alert.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertWarning
	AlertCritical
)

func (a AlertLevel) String() string {
	switch a {
	case AlertWarning:
		return "WARNING"
	case AlertCritical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// ResourceAlert represents an alert for resource usage.
type ResourceAlert struct {
	Level    AlertLevel
	Resource string // "fd", "cpu", "memory"
	Message  string
	Value    interface{}
}

// ResourceMonitor samples resource usage for processes from /proc. The
// muxer runs one against its ffmpeg child for the duration of a capture;
// the daemon runs one against its own PID to feed the /metrics endpoint.
type ResourceMonitor struct {
	thresholds ResourceThresholds
	logger     *slog.Logger
	mu         sync.RWMutex
	metrics    map[int]*ResourceMetrics // PID -> last sample
	procPath   string                   // Path to /proc (for testing)
}

// MonitorOption is a functional option for configuring the monitor.
type MonitorOption func(*ResourceMonitor)

// WithThresholds sets custom resource thresholds.
func WithThresholds(t ResourceThresholds) MonitorOption {
	return func(m *ResourceMonitor) {
		m.thresholds = t
	}
}

// WithMonitorLogger sets a logger for threshold alerts.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *ResourceMonitor) {
		m.logger = l
	}
}

// WithProcPath sets a custom /proc path (for testing).
func WithProcPath(path string) MonitorOption {
	return func(m *ResourceMonitor) {
		m.procPath = path
	}
}

// NewResourceMonitor creates a new resource monitor.
func NewResourceMonitor(opts ...MonitorOption) *ResourceMonitor {
	m := &ResourceMonitor{
		thresholds: DefaultThresholds(),
		metrics:    make(map[int]*ResourceMetrics),
		procPath:   "/proc",
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetMetrics collects current resource metrics for a process from
// /proc/{pid}. CPUPercent is computed as a delta against the previous
// sample for the same PID; the first sample reports 0.
func (m *ResourceMonitor) GetMetrics(pid int) (*ResourceMetrics, error) {
	procDir := filepath.Join(m.procPath, strconv.Itoa(pid))

	if _, err := os.Stat(procDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("process %d not found", pid)
	}

	metrics := &ResourceMetrics{
		PID:       pid,
		Timestamp: time.Now(),
	}

	// Count file descriptors
	fdDir := filepath.Join(procDir, "fd")
	if entries, err := os.ReadDir(fdDir); err == nil {
		metrics.FileDescriptors = len(entries)
	}

	// Read stat for thread count and cumulative CPU ticks
	statPath := filepath.Join(procDir, "stat")
	// #nosec G304 -- reading from /proc, controlled path
	if data, err := os.ReadFile(statPath); err == nil {
		metrics.ThreadCount = parseThreadCount(string(data))
		metrics.cpuTicks = parseCPUTicks(string(data))
	}

	// Read statm for memory info
	statmPath := filepath.Join(procDir, "statm")
	// #nosec G304 -- reading from /proc, controlled path
	if data, err := os.ReadFile(statmPath); err == nil {
		metrics.MemoryBytes = parseMemoryBytes(string(data))
	}

	if startTime, err := m.getProcessStartTime(pid); err == nil {
		metrics.Uptime = time.Since(startTime)
	}

	m.mu.Lock()
	if prev, ok := m.metrics[pid]; ok {
		metrics.CPUPercent = cpuPercentBetween(prev, metrics)
	}
	m.metrics[pid] = metrics
	m.mu.Unlock()

	return metrics, nil
}

// cpuPercentBetween converts the tick delta between two samples of the
// same process into percent-of-one-core over the elapsed wall time.
func cpuPercentBetween(prev, cur *ResourceMetrics) float64 {
	elapsed := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 || cur.cpuTicks < prev.cpuTicks {
		return 0
	}
	cpuSeconds := float64(cur.cpuTicks-prev.cpuTicks) / clockTicksPerSecond
	return cpuSeconds / elapsed * 100.0
}

// clockTicksPerSecond is the kernel's USER_HZ. Fixed at 100 on every
// mainstream Linux architecture.
const clockTicksPerSecond = 100.0

// CheckThresholds checks metrics against thresholds and returns alerts.
func (m *ResourceMonitor) CheckThresholds(metrics *ResourceMetrics) []ResourceAlert {
	var alerts []ResourceAlert

	// Check file descriptors
	if metrics.FileDescriptors >= m.thresholds.FDCritical {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertCritical,
			Resource: "fd",
			Message:  fmt.Sprintf("File descriptors at critical level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDCritical),
			Value:    metrics.FileDescriptors,
		})
	} else if metrics.FileDescriptors >= m.thresholds.FDWarning {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertWarning,
			Resource: "fd",
			Message:  fmt.Sprintf("File descriptors at warning level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDWarning),
			Value:    metrics.FileDescriptors,
		})
	}

	// Check CPU
	if metrics.CPUPercent >= m.thresholds.CPUCritical {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertCritical,
			Resource: "cpu",
			Message:  fmt.Sprintf("CPU usage at critical level: %.1f%% >= %.1f%%", metrics.CPUPercent, m.thresholds.CPUCritical),
			Value:    metrics.CPUPercent,
		})
	} else if metrics.CPUPercent >= m.thresholds.CPUWarning {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertWarning,
			Resource: "cpu",
			Message:  fmt.Sprintf("CPU usage at warning level: %.1f%% >= %.1f%%", metrics.CPUPercent, m.thresholds.CPUWarning),
			Value:    metrics.CPUPercent,
		})
	}

	// Check memory
	if metrics.MemoryBytes >= m.thresholds.MemoryCritical {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertCritical,
			Resource: "memory",
			Message:  fmt.Sprintf("Memory usage at critical level: %s >= %s", FormatBytes(metrics.MemoryBytes), FormatBytes(m.thresholds.MemoryCritical)),
			Value:    metrics.MemoryBytes,
		})
	} else if metrics.MemoryBytes >= m.thresholds.MemoryWarning {
		alerts = append(alerts, ResourceAlert{
			Level:    AlertWarning,
			Resource: "memory",
			Message:  fmt.Sprintf("Memory usage at warning level: %s >= %s", FormatBytes(metrics.MemoryBytes), FormatBytes(m.thresholds.MemoryWarning)),
			Value:    metrics.MemoryBytes,
		})
	}

	return alerts
}

// MonitorProcess samples pid every interval until ctx is cancelled or the
// process disappears, logging threshold alerts and passing them to
// alertCallback if set.
func (m *ResourceMonitor) MonitorProcess(ctx context.Context, pid int, interval time.Duration, alertCallback func([]ResourceAlert)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics, err := m.GetMetrics(pid)
			if err != nil {
				// Process has exited; the capture teardown owns that, we
				// just stop sampling.
				return
			}

			alerts := m.CheckThresholds(metrics)
			if len(alerts) > 0 {
				if m.logger != nil {
					for _, alert := range alerts {
						m.logger.Warn("capture process resource alert",
							"pid", pid, "level", alert.Level.String(), "resource", alert.Resource, "detail", alert.Message)
					}
				}
				if alertCallback != nil {
					alertCallback(alerts)
				}
			}
		}
	}
}

// GetCachedMetrics returns the last collected metrics for a process.
func (m *ResourceMonitor) GetCachedMetrics(pid int) *ResourceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics[pid]
}

// ClearMetrics removes cached metrics for a process.
func (m *ResourceMonitor) ClearMetrics(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, pid)
}

// getProcessStartTime reads the process start time from /proc/{pid}/stat.
func (m *ResourceMonitor) getProcessStartTime(pid int) (time.Time, error) {
	statPath := filepath.Join(m.procPath, strconv.Itoa(pid), "stat")
	// #nosec G304 -- reading from /proc, controlled path
	data, err := os.ReadFile(statPath)
	if err != nil {
		return time.Time{}, err
	}

	// Start time is field 22 of stat, counted after the parenthesized comm
	// field (which may itself contain spaces).
	content := string(data)
	idx := strings.LastIndex(content, ")")
	if idx == -1 {
		return time.Time{}, fmt.Errorf("invalid stat format")
	}

	fields := strings.Fields(content[idx+1:])
	if len(fields) < 20 {
		return time.Time{}, fmt.Errorf("insufficient fields in stat")
	}

	startTicks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	bootTime := getSystemBootTime(m.procPath)
	startSeconds := float64(startTicks) / clockTicksPerSecond

	return bootTime.Add(time.Duration(startSeconds * float64(time.Second))), nil
}

// parseThreadCount extracts num_threads from /proc/{pid}/stat content.
func parseThreadCount(stat string) int {
	idx := strings.LastIndex(stat, ")")
	if idx == -1 {
		return 0
	}

	fields := strings.Fields(stat[idx+1:])
	if len(fields) < 18 {
		return 0
	}

	// Field 17 (0-indexed after comm) is num_threads.
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return 0
	}
	return threads
}

// parseCPUTicks extracts utime+stime from /proc/{pid}/stat content.
func parseCPUTicks(stat string) int64 {
	idx := strings.LastIndex(stat, ")")
	if idx == -1 {
		return 0
	}

	fields := strings.Fields(stat[idx+1:])
	if len(fields) < 13 {
		return 0
	}

	// Fields 11 and 12 (0-indexed after comm) are utime and stime.
	utime, err1 := strconv.ParseInt(fields[11], 10, 64)
	stime, err2 := strconv.ParseInt(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	return utime + stime
}

// parseMemoryBytes extracts resident memory from /proc/{pid}/statm content.
func parseMemoryBytes(statm string) int64 {
	fields := strings.Fields(statm)
	if len(fields) < 2 {
		return 0
	}

	// Second field is resident set size in pages.
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}

	pageSize := int64(os.Getpagesize())
	return pages * pageSize
}

// getSystemBootTime reads the system boot time from /proc/stat.
func getSystemBootTime(procPath string) time.Time {
	statPath := filepath.Join(procPath, "stat")
	// #nosec G304 -- reading from /proc, controlled path
	data, err := os.ReadFile(statPath)
	if err != nil {
		return time.Now() // Fallback to current time
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				bootSecs, err := strconv.ParseInt(fields[1], 10, 64)
				if err == nil {
					return time.Unix(bootSecs, 0)
				}
			}
		}
	}

	return time.Now() // Fallback
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
