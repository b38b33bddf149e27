// Package main implements the meeting-recorderd daemon, the core unattended
// meeting recording service.
//
// meeting-recorderd is designed for 24/7 unattended operation: it arms
// persisted schedules against a cron engine, serializes the resulting
// recording jobs behind a single-flight worker, dispatches lifecycle
// notifications, and serves a /healthz and /metrics endpoint for fleet
// monitoring.
//
// Usage:
//
//	meeting-recorderd [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/meeting-recorder/config.yaml)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
//
// The daemon automatically:
//   - Sweeps orphaned jobs left non-terminal by an unclean shutdown
//   - Arms every enabled schedule and fires recording jobs on time
//   - Retries a failed recording within the meeting's remaining window
//   - Dispatches started/completed/failed/retry/uploaded notifications
//   - Handles SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/captureenv"
	"github.com/eyeduck-ai/meeting-recorder/internal/config"
	"github.com/eyeduck-ai/meeting-recorder/internal/health"
	"github.com/eyeduck-ai/meeting-recorder/internal/jobrunner"
	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/notifier"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence/memstore"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence/sqlite"
	"github.com/eyeduck-ai/meeting-recorder/internal/scheduler"
	"github.com/eyeduck-ai/meeting-recorder/internal/stream"
	"github.com/eyeduck-ai/meeting-recorder/internal/supervisor"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader/fake"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader/noop"
	"github.com/eyeduck-ai/meeting-recorder/internal/worker"

	// Vendor adapters self-register with internal/provider via init(); the
	// registry is empty until these are imported for their side effects.
	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/jitsi"
	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/webex"
	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/zoom"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Command line flags
var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meeting-recorderd: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Server.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
	logger.Info("starting meeting-recorderd", "version", Version, "commit", Commit, "built", BuildTime, "config", *configPath)

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil { //nolint:gosec // data dir needs group read for service monitoring
		logger.Error("failed to create data directory", "dir", cfg.Server.DataDir, "err", err)
		os.Exit(1)
	}

	jobs, schedules, meetings, detectionLogs, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open persistence store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sup := supervisor.New(supervisor.Config{
		Name:              "meeting-recorderd",
		ShutdownTimeout:   cfg.Supervisor.ShutdownTimeout,
		RestartDelay:      cfg.Supervisor.RestartDelay,
		MaxRestartDelay:   cfg.Supervisor.MaxRestartDelay,
		RestartMultiplier: cfg.Supervisor.RestartMultiplier,
		Logger:            logger,
	})

	recordingsDir := filepath.Join(cfg.Server.DataDir, "recordings")
	diagnosticsDir := filepath.Join(cfg.Server.DataDir, "diagnostics")
	for _, dir := range []string{recordingsDir, diagnosticsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // diagnostics bundles are read by operators via the CLI
			logger.Error("failed to create directory", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	loc, err := config.ResolveLocation(cfg.Server.Tz)
	if err != nil {
		logger.Warn("invalid timezone, falling back to UTC", "tz", cfg.Server.Tz, "err", err)
	}

	rec := worker.New(worker.Config{
		CaptureEnv: captureenv.Config{
			LockDir:     filepath.Join(cfg.Server.DataDir, "displays"),
			DisplayBase: 99,
			MaxDisplays: 20,
			StartupWait: 500 * time.Millisecond,
		},
		RecordingsDir:  recordingsDir,
		DiagnosticsDir: diagnosticsDir,
		FFmpegPath:     cfg.Recording.FFmpegPath,
		CheckInterval:  cfg.Recording.CheckInterval,
		JoinTimeout:    cfg.Recording.JoinTimeout,
		Logger:         logger.With("component", "worker"),
		DetectionLogs:  detectionLogs,
		Detection:      cfg.Detection,
	})

	up := resolveUploader(cfg)
	notif := notifier.New(logSink{logger: logger.With("component", "notifier")}, 64, logger.With("component", "notifier"))

	runner := jobrunner.New(jobrunner.Config{
		Worker:         rec,
		Schedules:      schedules,
		Meetings:       meetings,
		Jobs:           jobs,
		Notifier:       notif,
		Uploader:       up,
		DiagnosticsDir: diagnosticsDir,
		UploadPrivacy:  cfg.Upload.DefaultPrivacy,
		Location:       loc,
		Logger:         logger.With("component", "jobrunner"),
	})

	sched := scheduler.New(scheduler.Config{
		Schedules: schedules,
		Jobs:      jobs,
		Trigger:   runner.Trigger,
		Location:  loc,
		Logger:    logger.With("component", "scheduler"),
	})

	if err := sup.Add(notif); err != nil {
		logger.Error("failed to register notifier", "err", err)
		os.Exit(1)
	}
	if err := sup.Add(runner); err != nil {
		logger.Error("failed to register jobrunner", "err", err)
		os.Exit(1)
	}
	if err := sup.Add(sched); err != nil {
		logger.Error("failed to register scheduler", "err", err)
		os.Exit(1)
	}

	var healthSrv *healthService
	if cfg.Health.Enabled {
		handler := health.NewHandler(supervisorStatusAdapter{sup}).
			WithSystemInfo(health.DiskNTPProvider{
				Path:              cfg.Server.DataDir,
				LowThresholdBytes: uint64(cfg.Health.DiskLowThresholdMB) * 1024 * 1024,
			}).
			WithProcessStats(selfStatsProvider{monitor: stream.NewResourceMonitor()})
		healthSrv = &healthService{addr: cfg.Health.Addr, handler: handler}
		if err := sup.Add(healthSrv); err != nil {
			logger.Error("failed to register health server", "err", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	logger.Info("supervisor starting", "services", sup.ServiceCount())
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("supervisor exited with error", "err", err)
	}
	logger.Info("shutdown complete")
}

// openStore opens the configured persistence backend. SQLite is the
// production default; an explicit "memory" DataDir (used by integration
// tests and ephemeral demos) selects the in-memory store instead.
func openStore(cfg *config.Config, logger *slog.Logger) (persistence.JobRepository, persistence.ScheduleRepository, persistence.MeetingRepository, persistence.DetectionLogRepository, func(), error) {
	if cfg.Server.DataDir == "memory" {
		logger.Warn("using in-memory persistence store; all data is lost on restart")
		store := memstore.New()
		return store, store.Schedules(), store.Meetings(), store.DetectionLogs(), func() {}, nil
	}

	dbPath := filepath.Join(cfg.Server.DataDir, "meeting-recorder.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open sqlite store at %s: %w", dbPath, err)
	}
	logger.Info("opened persistence store", "path", dbPath)
	return store, store.Schedules(), store.Meetings(), store.DetectionLogs(), func() { _ = store.Close() }, nil
}

// resolveUploader picks the upload sink from upload.enabled: a disabled
// upload config gets the noop uploader, an enabled one the fake in-memory
// uploader, so a schedule with UploadEnabled set exercises the upload lock
// and notification path in development; a real deployment wires its own
// credentials-backed uploader.Uploader by replacing this selection.
func resolveUploader(cfg *config.Config) uploader.Uploader {
	if !cfg.Upload.Enabled {
		return noop.New()
	}
	return fake.New()
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logSink is the minimal notifier.Sink shipped with the daemon: it logs
// every lifecycle event rather than posting to a chat/email/webhook
// destination. A deployment that wants real notifications replaces this
// with its own Sink implementation at the same call site.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Started(_ context.Context, job model.Job) (string, error) {
	s.logger.Info("job started", "job_id", job.ID, "provider", job.Provider, "room", job.RoomCode)
	return job.ID, nil
}

func (s logSink) Completed(_ context.Context, job model.Job) error {
	s.logger.Info("job completed", "job_id", job.ID, "end_reason", job.EndReason)
	return nil
}

func (s logSink) Failed(_ context.Context, job model.Job) error {
	s.logger.Error("job failed", "job_id", job.ID, "error_code", job.ErrorCode, "error_message", job.ErrorMessage)
	return nil
}

func (s logSink) Canceled(_ context.Context, job model.Job) error {
	s.logger.Info("job canceled", "job_id", job.ID)
	return nil
}

func (s logSink) Retry(_ context.Context, job model.Job, attempt int, nextDelaySec float64, errMsg string) error {
	s.logger.Warn("job retrying", "job_id", job.ID, "attempt", attempt, "next_delay_sec", nextDelaySec, "err", errMsg)
	return nil
}

func (s logSink) Uploaded(_ context.Context, job model.Job, videoURL string) error {
	s.logger.Info("job uploaded", "job_id", job.ID, "video_url", videoURL)
	return nil
}

// supervisorStatusAdapter bridges supervisor.Supervisor.Status to
// health.StatusProvider.
type supervisorStatusAdapter struct {
	sup *supervisor.Supervisor
}

func (a supervisorStatusAdapter) Services() []health.ServiceInfo {
	statuses := a.sup.Status()
	out := make([]health.ServiceInfo, 0, len(statuses))
	for _, st := range statuses {
		info := health.ServiceInfo{
			Name:     st.Name,
			State:    st.State.String(),
			Uptime:   st.Uptime,
			Healthy:  st.State == supervisor.ServiceStateRunning,
			Restarts: st.Restarts,
		}
		if st.LastError != nil {
			info.Error = st.LastError.Error()
		}
		out = append(out, info)
	}
	return out
}

// selfStatsProvider samples the daemon's own process through a
// stream.ResourceMonitor for the /metrics process gauges. Per-capture
// ffmpeg sampling lives inside the muxer, which owns that child's
// lifetime; the daemon's own footprint is the one PID stable enough to
// report here on every scrape.
type selfStatsProvider struct {
	monitor *stream.ResourceMonitor
}

func (p selfStatsProvider) ProcessStats() []health.ProcessStats {
	m, err := p.monitor.GetMetrics(os.Getpid())
	if err != nil {
		return nil
	}
	return []health.ProcessStats{{
		Name:            "daemon",
		PID:             m.PID,
		FileDescriptors: m.FileDescriptors,
		CPUPercent:      m.CPUPercent,
		MemoryBytes:     m.MemoryBytes,
		Threads:         m.ThreadCount,
	}}
}

// healthService wraps health.ListenAndServe as a supervisor.Service.
type healthService struct {
	addr    string
	handler *health.Handler
}

func (h *healthService) Name() string { return "health" }

func (h *healthService) Run(ctx context.Context) error {
	return health.ListenAndServe(ctx, h.addr, h.handler)
}

func printUsage() {
	fmt.Println("meeting-recorderd - Unattended meeting recording daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: meeting-recorderd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon arms persisted schedules, joins Jitsi/Webex/Zoom meetings")
	fmt.Println("headlessly, records them, and uploads completed recordings.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM, SIGHUP  Graceful shutdown")
}
