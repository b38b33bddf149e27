package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// writeFakeProc lays out a /proc/{pid} skeleton: fd entries, stat with the
// given utime/stime/threads, and statm with the given resident pages.
func writeFakeProc(t *testing.T, procPath string, pid, fds int, utime, stime int64, threads int, residentPages int64) {
	t.Helper()
	procDir := filepath.Join(procPath, strconv.Itoa(pid))

	fdDir := filepath.Join(procDir, "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatalf("mkdir fd: %v", err)
	}
	// Clear any fds from a previous call, then create the requested count.
	entries, _ := os.ReadDir(fdDir)
	for _, e := range entries {
		_ = os.Remove(filepath.Join(fdDir, e.Name()))
	}
	for i := 0; i < fds; i++ {
		if err := os.WriteFile(filepath.Join(fdDir, strconv.Itoa(i)), nil, 0o644); err != nil {
			t.Fatalf("write fd entry: %v", err)
		}
	}

	// Everything after the parenthesized comm, 0-indexed: utime is field
	// 11, stime 12, num_threads 17, starttime 19.
	stat := fmt.Sprintf("%d (ffmpeg) R 1 1 1 0 -1 4194304 100 0 0 0 %d %d 0 0 20 0 %d 0 5000 0 0",
		pid, utime, stime, threads)
	if err := os.WriteFile(filepath.Join(procDir, "stat"), []byte(stat), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}

	statm := fmt.Sprintf("%d %d 100 10 0 200 0", residentPages*2, residentPages)
	if err := os.WriteFile(filepath.Join(procDir, "statm"), []byte(statm), 0o644); err != nil {
		t.Fatalf("write statm: %v", err)
	}

	// System-wide stat for boot time.
	if err := os.WriteFile(filepath.Join(procPath, "stat"), []byte("cpu 1 2 3 4\nbtime 1700000000\n"), 0o644); err != nil {
		t.Fatalf("write system stat: %v", err)
	}
}

func TestGetMetrics(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 4242, 7, 100, 50, 12, 1000)

	m := NewResourceMonitor(WithProcPath(procPath))
	metrics, err := m.GetMetrics(4242)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	if metrics.PID != 4242 {
		t.Errorf("PID = %d, want 4242", metrics.PID)
	}
	if metrics.FileDescriptors != 7 {
		t.Errorf("FileDescriptors = %d, want 7", metrics.FileDescriptors)
	}
	if metrics.ThreadCount != 12 {
		t.Errorf("ThreadCount = %d, want 12", metrics.ThreadCount)
	}
	wantMem := 1000 * int64(os.Getpagesize())
	if metrics.MemoryBytes != wantMem {
		t.Errorf("MemoryBytes = %d, want %d", metrics.MemoryBytes, wantMem)
	}
	// First sample has no previous tick count to diff against.
	if metrics.CPUPercent != 0 {
		t.Errorf("first-sample CPUPercent = %f, want 0", metrics.CPUPercent)
	}
	if metrics.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestGetMetricsMissingProcess(t *testing.T) {
	m := NewResourceMonitor(WithProcPath(t.TempDir()))
	if _, err := m.GetMetrics(99999); err == nil {
		t.Error("expected error for missing process")
	}
}

func TestGetMetricsCPUDelta(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 4242, 3, 100, 100, 4, 100)

	m := NewResourceMonitor(WithProcPath(procPath))
	if _, err := m.GetMetrics(4242); err != nil {
		t.Fatalf("first GetMetrics: %v", err)
	}

	// 100 more ticks of CPU over a short wall-clock window.
	time.Sleep(20 * time.Millisecond)
	writeFakeProc(t, procPath, 4242, 3, 150, 150, 4, 100)

	second, err := m.GetMetrics(4242)
	if err != nil {
		t.Fatalf("second GetMetrics: %v", err)
	}
	if second.CPUPercent <= 0 {
		t.Errorf("CPUPercent = %f, want > 0 after tick growth", second.CPUPercent)
	}
}

func TestGetCachedMetrics(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 4242, 1, 0, 0, 1, 10)

	m := NewResourceMonitor(WithProcPath(procPath))
	if m.GetCachedMetrics(4242) != nil {
		t.Error("expected no cached metrics before first sample")
	}
	if _, err := m.GetMetrics(4242); err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.GetCachedMetrics(4242) == nil {
		t.Error("expected cached metrics after sample")
	}
	m.ClearMetrics(4242)
	if m.GetCachedMetrics(4242) != nil {
		t.Error("expected no cached metrics after ClearMetrics")
	}
}

func TestCheckThresholds(t *testing.T) {
	thresholds := ResourceThresholds{
		FDWarning:      10,
		FDCritical:     20,
		CPUWarning:     50,
		CPUCritical:    100,
		MemoryWarning:  1024,
		MemoryCritical: 4096,
	}
	m := NewResourceMonitor(WithThresholds(thresholds))

	tests := []struct {
		name       string
		metrics    ResourceMetrics
		wantAlerts int
		wantLevel  AlertLevel
	}{
		{
			name:       "all clear",
			metrics:    ResourceMetrics{FileDescriptors: 5, CPUPercent: 10, MemoryBytes: 512},
			wantAlerts: 0,
		},
		{
			name:       "fd warning",
			metrics:    ResourceMetrics{FileDescriptors: 15},
			wantAlerts: 1,
			wantLevel:  AlertWarning,
		},
		{
			name:       "fd critical",
			metrics:    ResourceMetrics{FileDescriptors: 25},
			wantAlerts: 1,
			wantLevel:  AlertCritical,
		},
		{
			name:       "cpu warning",
			metrics:    ResourceMetrics{CPUPercent: 60},
			wantAlerts: 1,
			wantLevel:  AlertWarning,
		},
		{
			name:       "memory critical",
			metrics:    ResourceMetrics{MemoryBytes: 8192},
			wantAlerts: 1,
			wantLevel:  AlertCritical,
		},
		{
			name:       "everything on fire",
			metrics:    ResourceMetrics{FileDescriptors: 25, CPUPercent: 150, MemoryBytes: 8192},
			wantAlerts: 3,
			wantLevel:  AlertCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := m.CheckThresholds(&tt.metrics)
			if len(alerts) != tt.wantAlerts {
				t.Fatalf("got %d alerts, want %d", len(alerts), tt.wantAlerts)
			}
			for _, a := range alerts {
				if a.Level != tt.wantLevel {
					t.Errorf("alert %s level = %v, want %v", a.Resource, a.Level, tt.wantLevel)
				}
			}
		})
	}
}

func TestAlertLevelString(t *testing.T) {
	tests := []struct {
		level AlertLevel
		want  string
	}{
		{AlertNone, "OK"},
		{AlertWarning, "WARNING"},
		{AlertCritical, "CRITICAL"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("AlertLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestMonitorProcessStopsOnCancel(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 4242, 1, 0, 0, 1, 10)

	m := NewResourceMonitor(WithProcPath(procPath))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.MonitorProcess(ctx, 4242, 10*time.Millisecond, nil)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MonitorProcess did not stop after cancel")
	}
}

func TestMonitorProcessStopsOnExit(t *testing.T) {
	procPath := t.TempDir()
	// No /proc/{pid} dir at all: the first tick sees a dead process.
	m := NewResourceMonitor(WithProcPath(procPath))

	done := make(chan struct{})
	go func() {
		m.MonitorProcess(context.Background(), 4242, 10*time.Millisecond, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MonitorProcess did not stop after process exit")
	}
}

func TestMonitorProcessAlertCallback(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 4242, 30, 0, 0, 1, 10)

	m := NewResourceMonitor(
		WithProcPath(procPath),
		WithThresholds(ResourceThresholds{
			FDWarning:      10,
			FDCritical:     20,
			CPUWarning:     50,
			CPUCritical:    100,
			MemoryWarning:  1 << 30,
			MemoryCritical: 2 << 30,
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []ResourceAlert, 1)
	go m.MonitorProcess(ctx, 4242, 10*time.Millisecond, func(alerts []ResourceAlert) {
		select {
		case got <- alerts:
		default:
		}
	})

	select {
	case alerts := <-got:
		if len(alerts) == 0 {
			t.Fatal("empty alert batch delivered")
		}
		if alerts[0].Resource != "fd" || alerts[0].Level != AlertCritical {
			t.Errorf("alert = %+v, want critical fd alert", alerts[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert callback never fired")
	}
}

func TestParseHelpers(t *testing.T) {
	stat := "99 (my proc) R 1 1 1 0 -1 0 0 0 0 0 40 60 0 0 20 0 9 0 12345 0 0"
	if got := parseThreadCount(stat); got != 9 {
		t.Errorf("parseThreadCount = %d, want 9", got)
	}
	if got := parseCPUTicks(stat); got != 100 {
		t.Errorf("parseCPUTicks = %d, want 100", got)
	}
	if got := parseThreadCount("garbage"); got != 0 {
		t.Errorf("parseThreadCount(garbage) = %d, want 0", got)
	}
	if got := parseCPUTicks("garbage"); got != 0 {
		t.Errorf("parseCPUTicks(garbage) = %d, want 0", got)
	}

	pageSize := int64(os.Getpagesize())
	if got := parseMemoryBytes("200 100 50 10 0 80 0"); got != 100*pageSize {
		t.Errorf("parseMemoryBytes = %d, want %d", got, 100*pageSize)
	}
	if got := parseMemoryBytes(""); got != 0 {
		t.Errorf("parseMemoryBytes(empty) = %d, want 0", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 * 1024 * 1024, "3.0 MiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
