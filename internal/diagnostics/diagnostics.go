// Package diagnostics provides system health checks for meeting-recorder.
//
// The checks cover the capture stack (ffmpeg, Xvfb, PulseAudio, the
// browser binary), the daemon's own state (config, data directory,
// display locks, health endpoint), and the host resources a long
// unattended recording depends on (disk, memory, file descriptors).
// They back the "meeting-recorderctl doctor" command.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/config"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusSkipped  CheckStatus = "SKIPPED"
	StatusError    CheckStatus = "ERROR"
)

// DiagnosticReport contains results from all diagnostic checks.
type DiagnosticReport struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	Memory       int64  `json:"memory_bytes"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
}

// Summary contains a summary of check results.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Skipped  int `json:"skipped"`
	Error    int `json:"error"`
}

// CheckMode determines which checks to run.
type CheckMode string

const (
	ModeQuick CheckMode = "quick" // Essential checks only
	ModeFull  CheckMode = "full"  // All checks (default)
	ModeDebug CheckMode = "debug" // All checks with verbose output
)

// Diagnostic thresholds - all configurable for different deployment scenarios.
const (
	// LogSizeWarningBytes is the threshold for warning about log file sizes (100MB).
	LogSizeWarningBytes = 100 * 1024 * 1024

	// DiskUsageCriticalPercent is the disk usage percentage that triggers critical status.
	// Recordings are written straight to the data filesystem, so a near-full
	// disk fails the next job mid-capture rather than up front.
	DiskUsageCriticalPercent = 95

	// DiskUsageWarningPercent is the disk usage percentage that triggers warning status.
	DiskUsageWarningPercent = 85

	// FDUsageCriticalPercent is the file descriptor usage percentage that triggers critical status.
	FDUsageCriticalPercent = 80

	// FDUsageWarningPercent is the file descriptor usage percentage that triggers warning status.
	FDUsageWarningPercent = 50

	// MemoryUsageCriticalPercent is the memory usage percentage that triggers critical status.
	// Chromium plus ffmpeg for one job routinely needs 1.5-2 GB.
	MemoryUsageCriticalPercent = 90

	// MemoryUsageWarningPercent is the memory usage percentage that triggers warning status.
	MemoryUsageWarningPercent = 75

	// MinInotifyWatches is the minimum recommended inotify watches
	// (the config reloader holds a watch on the config file).
	MinInotifyWatches = 8192
)

// Options configures the diagnostic run.
type Options struct {
	Mode       CheckMode
	ConfigPath string
	DataDir    string // recordings, sqlite store, per-job logs
	LockDir    string // per-display flock files
	HealthAddr string // the daemon's /healthz listener
	Output     io.Writer
	Verbose    bool
}

// DefaultOptions returns default diagnostic options.
func DefaultOptions() Options {
	def := config.DefaultConfig()
	return Options{
		Mode:       ModeFull,
		ConfigPath: config.ConfigFilePath,
		DataDir:    def.Server.DataDir,
		LockDir:    filepath.Join(def.Server.DataDir, "displays"),
		HealthAddr: def.Health.Addr,
		Output:     os.Stdout,
		Verbose:    false,
	}
}

// Runner executes diagnostic checks.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes all diagnostic checks and returns a report.
func (r *Runner) Run(ctx context.Context) (*DiagnosticReport, error) {
	start := time.Now()

	report := &DiagnosticReport{
		Timestamp:  start,
		SystemInfo: r.collectSystemInfo(),
		Summary:    &Summary{},
	}

	// Define checks based on mode
	checks := r.getChecks()

	// Run each check
	for _, check := range checks {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
			result := check(ctx)
			report.Checks = append(report.Checks, result)

			// Update summary
			report.Summary.Total++
			switch result.Status {
			case StatusOK:
				report.Summary.OK++
			case StatusWarning:
				report.Summary.Warning++
			case StatusCritical:
				report.Summary.Critical++
			case StatusSkipped:
				report.Summary.Skipped++
			case StatusError:
				report.Summary.Error++
			}
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0

	return report, nil
}

// getChecks returns the checks to run based on mode.
func (r *Runner) getChecks() []func(context.Context) CheckResult {
	// Quick mode: can the next scheduled job actually record?
	quickChecks := []func(context.Context) CheckResult{
		r.checkFFmpeg,
		r.checkXvfb,
		r.checkPulseAudio,
		r.checkBrowser,
		r.checkConfig,
	}

	if r.opts.Mode == ModeQuick {
		return quickChecks
	}

	return []func(context.Context) CheckResult{
		// 1. Prerequisites & Dependencies
		r.checkPrerequisites,
		// 2. Tool Versions
		r.checkVersions,
		// 3. System Information
		r.checkSystemInfo,
		// 4. FFmpeg encoders
		r.checkFFmpeg,
		// 5. Virtual display server
		r.checkXvfb,
		// 6. PulseAudio
		r.checkPulseAudio,
		// 7. Browser binary
		r.checkBrowser,
		// 8. Configuration
		r.checkConfig,
		// 9. Data Directory
		r.checkDataDir,
		// 10. Display Locks
		r.checkDisplayLocks,
		// 11. Log Files
		r.checkLogFiles,
		// 12. Disk Space
		r.checkDiskSpace,
		// 13. File Descriptors
		r.checkFileDescriptors,
		// 14. Memory
		r.checkMemory,
		// 15. Daemon Service
		r.checkDaemonService,
		// 16. Health Endpoint
		r.checkHealthEndpoint,
		// 17. Stray Capture Processes
		r.checkStrayProcesses,
		// 18. Time Synchronization
		r.checkTimeSynchronization,
		// 19. inotify Limits
		r.checkInotifyLimits,
	}
}

// collectSystemInfo gathers basic system information.
func (r *Runner) collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	// Hostname
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}

	// Kernel version
	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.Kernel = parts[2]
		}
	}

	// Memory
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemTotal:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						info.Memory = kb * 1024
					}
				}
				break
			}
		}
	}

	// Uptime
	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 1 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				d := time.Duration(secs) * time.Second
				info.Uptime = formatDuration(d)
			}
		}
	}

	return info
}

// browserBinaries are the Chromium-family binary names tried in order.
// go-rod's launcher can also download its own managed revision, so a
// missing system browser is a warning, not a failure.
var browserBinaries = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

// Individual check implementations

func (r *Runner) checkPrerequisites(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Prerequisites",
		Category: "System",
	}

	required := []string{"ffmpeg", "Xvfb"}
	optional := []string{"pulseaudio", "pactl", "ffprobe", "systemctl", "timedatectl"}

	var missing []string
	var warnings []string

	for _, cmd := range required {
		if _, err := exec.LookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}

	for _, cmd := range optional {
		if _, err := exec.LookPath(cmd); err != nil {
			warnings = append(warnings, cmd)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Missing required tools: %s", strings.Join(missing, ", "))
		result.Suggestions = append(result.Suggestions, "Install missing tools with: apt-get install ffmpeg xvfb")
	} else if len(warnings) > 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Missing optional tools: %s", strings.Join(warnings, ", "))
	} else {
		result.Status = StatusOK
		result.Message = "All required tools available"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkVersions(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Versions",
		Category: "System",
	}

	var versions []string

	// FFmpeg version
	if out, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output(); err == nil {
		lines := strings.Split(string(out), "\n")
		if len(lines) > 0 {
			versions = append(versions, "FFmpeg: "+strings.TrimPrefix(lines[0], "ffmpeg version "))
		}
	}

	// Xvfb prints its version banner to stderr.
	if out, err := exec.CommandContext(ctx, "Xvfb", "-version").CombinedOutput(); err == nil {
		versions = append(versions, "Xvfb: "+strings.TrimSpace(string(out)))
	}

	// PulseAudio version
	if out, err := exec.CommandContext(ctx, "pulseaudio", "--version").Output(); err == nil {
		versions = append(versions, "PulseAudio: "+strings.TrimSpace(string(out)))
	}

	result.Status = StatusOK
	result.Message = "Version information collected"
	result.Details = strings.Join(versions, "\n")
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkSystemInfo(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "System Info",
		Category: "System",
		Status:   StatusOK,
		Message:  "System information collected",
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFFmpeg(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "FFmpeg",
		Category: "Capture",
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		result.Status = StatusCritical
		result.Message = "FFmpeg not found"
		result.Suggestions = append(result.Suggestions, "Install FFmpeg: apt-get install ffmpeg")
		result.Duration = time.Since(start)
		return result
	}

	// Check version and encoders
	// #nosec G204 -- path is from exec.LookPath, not user input
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		result.Status = StatusWarning
		result.Message = "FFmpeg found but version check failed"
		result.Duration = time.Since(start)
		return result
	}

	// The recording pipeline encodes H.264 video and AAC audio.
	// #nosec G204 -- path is from exec.LookPath, not user input
	encOut, _ := exec.CommandContext(ctx, path, "-encoders").Output()
	hasX264 := strings.Contains(string(encOut), "libx264")
	hasAAC := strings.Contains(string(encOut), "aac")

	switch {
	case !hasX264:
		result.Status = StatusCritical
		result.Message = "FFmpeg missing libx264 encoder"
		result.Suggestions = append(result.Suggestions, "Install an ffmpeg build with libx264 support")
	case !hasAAC:
		result.Status = StatusWarning
		result.Message = "FFmpeg missing aac encoder; recordings will have no audio track"
	default:
		result.Status = StatusOK
		result.Message = "FFmpeg available with libx264 and aac encoders"
	}

	lines := strings.Split(string(out), "\n")
	if len(lines) > 0 {
		result.Details = lines[0]
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkXvfb(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Virtual Display",
		Category: "Capture",
	}

	if _, err := exec.LookPath("Xvfb"); err != nil {
		result.Status = StatusCritical
		result.Message = "Xvfb not found; recording jobs will fail with VIRTUAL_ENV_ERROR"
		result.Suggestions = append(result.Suggestions, "Install Xvfb: apt-get install xvfb")
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusOK
	result.Message = "Xvfb available"

	// Stale X lock files from a crashed display block that display number
	// until swept; captureenv skips locked numbers, but a wall of stale
	// locks can exhaust the display range.
	locks, _ := filepath.Glob("/tmp/.X*-lock")
	if len(locks) > 0 {
		result.Details = fmt.Sprintf("%d X display lock file(s) in /tmp", len(locks))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkPulseAudio(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "PulseAudio",
		Category: "Capture",
	}

	// Each job spawns its own pulseaudio instance for the null sink, so
	// only the binary needs to exist; a running daemon is not required.
	if _, err := exec.LookPath("pulseaudio"); err != nil {
		result.Status = StatusWarning
		result.Message = "pulseaudio not found; recordings will carry a silent audio track"
		result.Suggestions = append(result.Suggestions, "Install PulseAudio: apt-get install pulseaudio pulseaudio-utils")
		result.Duration = time.Since(start)
		return result
	}

	if _, err := exec.LookPath("pactl"); err != nil {
		result.Status = StatusWarning
		result.Message = "pactl not found; the null sink cannot be created"
		result.Suggestions = append(result.Suggestions, "Install pactl: apt-get install pulseaudio-utils")
	} else {
		result.Status = StatusOK
		result.Message = "PulseAudio and pactl available"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkBrowser(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Browser",
		Category: "Capture",
	}

	for _, bin := range browserBinaries {
		if path, err := exec.LookPath(bin); err == nil {
			result.Status = StatusOK
			result.Message = "Chromium-family browser found"
			result.Details = path
			result.Duration = time.Since(start)
			return result
		}
	}

	result.Status = StatusWarning
	result.Message = "No system Chromium found; the launcher will download a managed build on first run"
	result.Suggestions = append(result.Suggestions, "Install Chromium: apt-get install chromium")
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkConfig(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Configuration",
		Category: "Config",
	}

	if _, err := os.Stat(r.opts.ConfigPath); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "Configuration file not found; built-in defaults apply"
		result.Details = r.opts.ConfigPath
		result.Duration = time.Since(start)
		return result
	}

	if _, err := config.LoadConfig(r.opts.ConfigPath); err != nil {
		result.Status = StatusCritical
		result.Message = "Configuration file invalid"
		result.Details = err.Error()
		result.Suggestions = append(result.Suggestions, "Run: meeting-recorderctl config validate")
	} else {
		result.Status = StatusOK
		result.Message = "Configuration file valid"
		result.Details = r.opts.ConfigPath
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDataDir(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Data Directory",
		Category: "Config",
	}

	info, err := os.Stat(r.opts.DataDir)
	switch {
	case os.IsNotExist(err):
		result.Status = StatusWarning
		result.Message = "Data directory will be created on first run"
		result.Details = r.opts.DataDir
	case err != nil:
		result.Status = StatusError
		result.Message = "Failed to stat data directory"
		result.Details = err.Error()
	case !info.IsDir():
		result.Status = StatusCritical
		result.Message = "Data path exists but is not a directory"
		result.Details = r.opts.DataDir
	default:
		// Probe writability the way the muxer will: create and remove a file.
		probe := filepath.Join(r.opts.DataDir, ".doctor-probe")
		if f, err := os.Create(probe); err != nil { // #nosec G304 -- probe path under operator-supplied data dir
			result.Status = StatusCritical
			result.Message = "Data directory not writable"
			result.Details = err.Error()
			result.Suggestions = append(result.Suggestions, "Fix ownership: chown the data directory to the daemon user")
		} else {
			_ = f.Close()
			_ = os.Remove(probe)
			result.Status = StatusOK
			result.Message = "Data directory writable"
			dbPath := filepath.Join(r.opts.DataDir, "meeting-recorder.db")
			if st, err := os.Stat(dbPath); err == nil {
				result.Details = fmt.Sprintf("store: %s (%s)", dbPath, formatBytes(st.Size()))
			} else {
				result.Details = "store not yet created: " + dbPath
			}
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDisplayLocks(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Display Locks",
		Category: "System",
	}

	if info, err := os.Stat(r.opts.LockDir); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "Lock directory will be created on first run"
	} else if !info.IsDir() {
		result.Status = StatusCritical
		result.Message = "Lock path exists but is not a directory"
	} else {
		result.Status = StatusOK
		result.Message = "Lock directory exists"

		// Count per-display lock files
		entries, _ := os.ReadDir(r.opts.LockDir)
		locks := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".lock") {
				locks++
			}
		}
		if locks > 0 {
			result.Details = fmt.Sprintf("%d display lock(s) held", locks)
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkLogFiles(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Log Files",
		Category: "System",
	}

	// Per-job FFmpeg logs and diagnostic bundles accumulate here until an
	// operator prunes them; nothing removes them automatically.
	logDir := filepath.Join(r.opts.DataDir, "diagnostics")
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "Diagnostics directory will be created on first run"
		result.Duration = time.Since(start)
		return result
	}

	// Calculate total log size
	var totalSize int64
	_ = filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if totalSize > LogSizeWarningBytes {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Diagnostics directory size: %s", formatBytes(totalSize))
		result.Suggestions = append(result.Suggestions, "Consider pruning old per-job bundles")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Diagnostics directory size: %s", formatBytes(totalSize))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDiskSpace(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Disk Space",
		Category: "Resources",
	}

	// Stat the filesystem recordings land on, not the root filesystem;
	// the two are routinely different mounts on recording hosts.
	path := r.opts.DataDir
	if _, err := os.Stat(path); err != nil {
		path = "/"
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusError
		result.Message = "Failed to check disk space"
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G115 -- Bsize is always positive on Linux filesystems
	available := stat.Bavail * uint64(stat.Bsize)
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	total := stat.Blocks * uint64(stat.Bsize)
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	if usedPercent > DiskUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Disk usage critical: %.1f%%", usedPercent)
		result.Suggestions = append(result.Suggestions, "Free up disk space or prune old recordings")
	} else if usedPercent > DiskUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Disk usage high: %.1f%%", usedPercent)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Disk usage: %.1f%% (%.1f GB available)", usedPercent, float64(available)/(1024*1024*1024))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFileDescriptors(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "File Descriptors",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		result.Status = StatusError
		result.Message = "Failed to read file descriptor info"
		result.Duration = time.Since(start)
		return result
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		result.Status = StatusError
		result.Message = "Invalid file-nr format"
		result.Duration = time.Since(start)
		return result
	}

	used, _ := strconv.ParseInt(fields[0], 10, 64)
	max, _ := strconv.ParseInt(fields[2], 10, 64)
	usedPercent := float64(used) / float64(max) * 100

	if usedPercent > FDUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("FD usage critical: %.1f%% (%d/%d)", usedPercent, used, max)
	} else if usedPercent > FDUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("FD usage elevated: %.1f%% (%d/%d)", usedPercent, used, max)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("FD usage normal: %.1f%% (%d/%d)", usedPercent, used, max)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkMemory(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Memory",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		result.Status = StatusError
		result.Message = "Failed to read memory info"
		result.Duration = time.Since(start)
		return result
	}

	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				total, _ = strconv.ParseInt(fields[1], 10, 64)
				total *= 1024
			}
		} else if strings.HasPrefix(line, "MemAvailable:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				available, _ = strconv.ParseInt(fields[1], 10, 64)
				available *= 1024
			}
		}
	}

	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	if usedPercent > MemoryUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Memory usage critical: %.1f%%", usedPercent)
	} else if usedPercent > MemoryUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Memory usage elevated: %.1f%%", usedPercent)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Memory usage: %.1f%% (%s available)", usedPercent, formatBytes(available))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDaemonService(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Daemon Service",
		Category: "Services",
	}

	out, err := exec.CommandContext(ctx, "systemctl", "is-active", "meeting-recorderd").Output()
	status := strings.TrimSpace(string(out))
	switch {
	case err != nil && status == "":
		result.Status = StatusSkipped
		result.Message = "systemd not available"
	case status == "active":
		result.Status = StatusOK
		result.Message = "meeting-recorderd service running"
	default:
		result.Status = StatusWarning
		result.Message = "meeting-recorderd service not running"
		result.Details = "state: " + status
		result.Suggestions = append(result.Suggestions, "Start service: systemctl start meeting-recorderd")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkHealthEndpoint(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Health Endpoint",
		Category: "Services",
	}

	if !isPortOpen(r.opts.HealthAddr) {
		result.Status = StatusWarning
		result.Message = "Health endpoint not reachable (daemon not running or health disabled)"
		result.Details = r.opts.HealthAddr
		result.Duration = time.Since(start)
		return result
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + r.opts.HealthAddr + "/healthz")
	if err != nil {
		result.Status = StatusWarning
		result.Message = "Health endpoint port open but /healthz failed"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		result.Status = StatusOK
		result.Message = "Daemon healthy"
	} else {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Daemon reports status %d", resp.StatusCode)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkStrayProcesses(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Stray Captures",
		Category: "Services",
	}

	// The recording lock is single-flight, so at most one Xvfb should be
	// alive at a time. More than one means a prior job's cleanup failed.
	out, _ := exec.CommandContext(ctx, "pgrep", "-c", "Xvfb").Output()
	count, _ := strconv.Atoi(strings.TrimSpace(string(out)))

	if count > 1 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d Xvfb processes running; at most one is expected", count)
		result.Suggestions = append(result.Suggestions, "Kill leftover displays: pkill Xvfb (while no recording is active)")
	} else {
		result.Status = StatusOK
		result.Message = "No stray capture processes"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTimeSynchronization(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Time Sync",
		Category: "System",
	}

	// Schedules fire on wall-clock time; a skewed clock joins meetings
	// early or late. Check timedatectl status.
	out, err := exec.CommandContext(ctx, "timedatectl", "status").Output()
	if err != nil {
		result.Status = StatusOK
		result.Message = "Time sync check skipped (timedatectl not available)"
		result.Duration = time.Since(start)
		return result
	}

	if strings.Contains(string(out), "synchronized: yes") {
		result.Status = StatusOK
		result.Message = "System time synchronized"
	} else {
		result.Status = StatusWarning
		result.Message = "System time may not be synchronized"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkInotifyLimits(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "inotify Limits",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/sys/fs/inotify/max_user_watches")
	if err != nil {
		result.Status = StatusOK
		result.Message = "inotify check skipped"
		result.Duration = time.Since(start)
		return result
	}

	maxWatches, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)

	if maxWatches < MinInotifyWatches {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("inotify max_user_watches low: %d", maxWatches)
		result.Suggestions = append(result.Suggestions, "Increase with: sysctl fs.inotify.max_user_watches=65536")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("inotify max_user_watches: %d", maxWatches)
	}

	result.Duration = time.Since(start)
	return result
}

// Helper functions

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func formatBytes(bytes int64) string {
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

func isPortOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PrintReport prints a formatted diagnostic report.
func PrintReport(w io.Writer, report *DiagnosticReport) {
	_, _ = fmt.Fprintf(w, "Meeting Recorder Diagnostics Report\n")
	_, _ = fmt.Fprintf(w, "===================================\n\n")

	_, _ = fmt.Fprintf(w, "System: %s (%s/%s)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture)
	_, _ = fmt.Fprintf(w, "Kernel: %s\n", report.SystemInfo.Kernel)
	_, _ = fmt.Fprintf(w, "Uptime: %s\n", report.SystemInfo.Uptime)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	// Group checks by category
	categories := make(map[string][]CheckResult)
	for _, check := range report.Checks {
		categories[check.Category] = append(categories[check.Category], check)
	}

	for category, checks := range categories {
		_, _ = fmt.Fprintf(w, "\n%s\n%s\n", category, strings.Repeat("-", len(category)))
		for _, check := range checks {
			status := "✓"
			switch check.Status {
			case StatusWarning:
				status = "⚠"
			case StatusCritical:
				status = "✗"
			case StatusError:
				status = "!"
			case StatusSkipped:
				status = "○"
			}
			_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "    %s\n", check.Details)
			}
			for _, suggestion := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "    → %s\n", suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n\nSummary\n-------\n")
	_, _ = fmt.Fprintf(w, "Total: %d | OK: %d | Warning: %d | Critical: %d | Error: %d | Skipped: %d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning,
		report.Summary.Critical, report.Summary.Error, report.Summary.Skipped)
	_, _ = fmt.Fprintf(w, "Duration: %v\n", report.Duration)

	if report.Healthy {
		_, _ = fmt.Fprintf(w, "\nSystem Status: HEALTHY\n")
	} else {
		_, _ = fmt.Fprintf(w, "\nSystem Status: ISSUES DETECTED\n")
	}
}

// ToJSON converts the report to JSON format.
func (r *DiagnosticReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
