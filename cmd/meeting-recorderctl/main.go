// Package main implements meeting-recorderctl, the operator CLI for
// managing meetings, schedules, and recording jobs against the same
// persistence store meeting-recorderd reads from.
//
// Usage:
//
//	meeting-recorderctl <command> [subcommand] [flags]
//
// Commands:
//
//	meetings   list | add | delete
//	schedules  list | add | trigger | set
//	jobs       list | show | cancel | diagnostics
//	health     Query the daemon's /healthz endpoint
//	config     validate
//	doctor     Run the system diagnostics suite
//	menu       Launch the interactive operator menu
//	update     check | apply  (self-update from GitHub releases)
//	version    Print version information
//
// Most commands operate directly on the configured persistence store; they
// do not require meeting-recorderd to be running. "schedules trigger" is
// the exception: it executes a recording synchronously in the CLI process
// itself (the same worker/jobrunner wiring the daemon uses), so it must
// not be run concurrently with a daemon already recording the same
// meeting.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eyeduck-ai/meeting-recorder/internal/captureenv"
	"github.com/eyeduck-ai/meeting-recorder/internal/config"
	"github.com/eyeduck-ai/meeting-recorder/internal/diagnostics"
	"github.com/eyeduck-ai/meeting-recorder/internal/jobrunner"
	"github.com/eyeduck-ai/meeting-recorder/internal/menu"
	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/notifier"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence/memstore"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence/sqlite"
	"github.com/eyeduck-ai/meeting-recorder/internal/updater"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader/noop"
	"github.com/eyeduck-ai/meeting-recorder/internal/worker"

	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/jitsi"
	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/webex"
	_ "github.com/eyeduck-ai/meeting-recorder/internal/provider/zoom"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")

func main() {
	flag.Parse()
	args := flag.Args()

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "meeting-recorderctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return nil
	case "version":
		fmt.Printf("meeting-recorderctl %s (%s)\n", Version, Commit)
		return nil
	case "meetings":
		return runMeetings(args[1:])
	case "schedules":
		return runSchedules(args[1:])
	case "jobs":
		return runJobs(args[1:])
	case "health":
		return runHealth(args[1:])
	case "config":
		return runConfig(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "menu":
		return menu.CreateMainMenu().Display()
	case "update":
		return runUpdate(args[1:])
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", args[0])
	}
}

func printUsage() {
	fmt.Println("meeting-recorderctl - operator CLI for meeting-recorderd")
	fmt.Println()
	fmt.Println("Usage: meeting-recorderctl <command> [subcommand] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  meetings   list | add --provider=P --room=R [--name=N --url=U --password=P --participant=NAME] | delete <id>")
	fmt.Println("  schedules  list | add --meeting=ID [--cron=EXPR | --once=RFC3339] --duration=SEC | trigger <id> | set <id> --enable|--disable")
	fmt.Println("  jobs       list [--limit=N] | show <id> | cancel <id> | diagnostics <id> [--tail=FILE]")
	fmt.Println("  health     [--addr=HOST:PORT]")
	fmt.Println("  config     validate")
	fmt.Println("  doctor     [--quick] [--json]  Run system diagnostics")
	fmt.Println("  menu       Launch the interactive operator menu")
	fmt.Println("  update     check | apply")
	fmt.Println("  version    Print version information")
}

// loadConfig loads the daemon's config, falling back to defaults so the CLI
// works against a freshly-installed system with no config file yet.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(*configPath)
}

// store bundles the four persistence ports plus a closer, exactly what
// openStore in cmd/meeting-recorderd/main.go builds for the daemon -- the
// CLI must read the same store the daemon writes to.
type store struct {
	jobs          persistence.JobRepository
	schedules     persistence.ScheduleRepository
	meetings      persistence.MeetingRepository
	detectionLogs persistence.DetectionLogRepository
	close         func()
}

func openStore(cfg *config.Config) (*store, error) {
	if cfg.Server.DataDir == "memory" {
		s := memstore.New()
		return &store{jobs: s, schedules: s.Schedules(), meetings: s.Meetings(), detectionLogs: s.DetectionLogs(), close: func() {}}, nil
	}
	dbPath := filepath.Join(cfg.Server.DataDir, "meeting-recorder.db")
	s, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dbPath, err)
	}
	return &store{jobs: s, schedules: s.Schedules(), meetings: s.Meetings(), detectionLogs: s.DetectionLogs(), close: func() { _ = s.Close() }}, nil
}

func withStore(fn func(cfg *config.Config, st *store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.close()
	return fn(cfg, st)
}

// --- meetings ---

func runMeetings(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: meetings list|add|delete")
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		return withStore(func(_ *config.Config, st *store) error {
			meetings, err := st.meetings.GetAll(ctx)
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				fmt.Println("No meetings registered.")
				return nil
			}
			for _, m := range meetings {
				fmt.Printf("%-36s %-8s %-20s %s\n", m.ID, m.Provider, m.DisplayName, m.SiteBaseURL)
			}
			return nil
		})

	case "add":
		fs := flag.NewFlagSet("meetings add", flag.ExitOnError)
		provider := fs.String("provider", "", "jitsi, webex, or zoom")
		room := fs.String("room", "", "room code")
		name := fs.String("name", "", "display name")
		url := fs.String("url", "", "site base URL (e.g. https://meet.jit.si)")
		password := fs.String("password", "", "room password, if any")
		participant := fs.String("participant", "Meeting Recorder", "default participant display name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *provider == "" || *room == "" {
			return fmt.Errorf("--provider and --room are required")
		}
		switch model.Provider(*provider) {
		case model.ProviderJitsi, model.ProviderWebex, model.ProviderZoom:
		default:
			return fmt.Errorf("--provider must be one of jitsi, webex, zoom")
		}
		displayName := *name
		if displayName == "" {
			displayName = *room
		}
		m := &model.Meeting{
			ID:                 uuid.NewString(),
			DisplayName:        displayName,
			Provider:           model.Provider(*provider),
			SiteBaseURL:        *url,
			RoomCode:           *room,
			Password:           *password,
			DefaultParticipant: *participant,
		}
		return withStore(func(_ *config.Config, st *store) error {
			if err := st.meetings.Create(ctx, m); err != nil {
				return err
			}
			fmt.Printf("Registered meeting %s\n", m.ID)
			return nil
		})

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: meetings delete <id>")
		}
		id := args[1]
		return withStore(func(_ *config.Config, st *store) error {
			ok, err := st.meetings.Delete(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("meeting %s not found", id)
			}
			fmt.Printf("Deleted meeting %s\n", id)
			return nil
		})

	default:
		return fmt.Errorf("unknown meetings subcommand %q", args[0])
	}
}

// --- schedules ---

func runSchedules(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: schedules list|add|trigger|set")
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		return withStore(func(_ *config.Config, st *store) error {
			sched, err := st.schedules.GetAllEnabled(ctx)
			if err != nil {
				return err
			}
			if len(sched) == 0 {
				fmt.Println("No enabled schedules.")
				return nil
			}
			for _, s := range sched {
				fmt.Printf("%-36s meeting=%-36s type=%-5s cron=%-20q duration=%ds\n", s.ID, s.MeetingID, s.Type, s.CronExpr, s.DurationSec)
			}
			return nil
		})

	case "add":
		fs := flag.NewFlagSet("schedules add", flag.ExitOnError)
		meetingID := fs.String("meeting", "", "meeting id this schedule attaches to")
		cronExpr := fs.String("cron", "", "cron expression for a recurring schedule")
		once := fs.String("once", "", "RFC3339 timestamp for a one-shot schedule")
		duration := fs.Int("duration", 3600, "recording duration in seconds")
		dryRun := fs.Bool("dry-run", false, "record with meeting-end detection in log-only mode (detection never ends the recording)")
		uploadEnabled := fs.Bool("upload", false, "upload the finished recording")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *meetingID == "" {
			return fmt.Errorf("--meeting is required")
		}
		if *cronExpr == "" && *once == "" {
			return fmt.Errorf("one of --cron or --once is required")
		}

		sc := &model.Schedule{
			ID:            uuid.NewString(),
			MeetingID:     *meetingID,
			DurationSec:   *duration,
			DurationMode:  model.DurationModeFixed,
			DryRun:        *dryRun,
			UploadEnabled: *uploadEnabled,
			Enabled:       true,
		}
		if *cronExpr != "" {
			sc.Type = model.ScheduleCron
			sc.CronExpr = *cronExpr
		} else {
			t, err := time.Parse(time.RFC3339, *once)
			if err != nil {
				return fmt.Errorf("--once must be RFC3339: %w", err)
			}
			sc.Type = model.ScheduleOnce
			sc.StartTime = t.UTC()
		}

		return withStore(func(_ *config.Config, st *store) error {
			if _, err := st.meetings.Get(ctx, sc.MeetingID); err != nil {
				return err
			}
			if err := st.schedules.Create(ctx, sc); err != nil {
				return err
			}
			fmt.Printf("Created schedule %s\n", sc.ID)
			return nil
		})

	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: schedules trigger <id>")
		}
		return triggerSchedule(args[1])

	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: schedules set <id> --enable|--disable")
		}
		id := args[1]
		fs := flag.NewFlagSet("schedules set", flag.ExitOnError)
		enable := fs.Bool("enable", false, "enable the schedule")
		disable := fs.Bool("disable", false, "disable the schedule")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *enable == *disable {
			return fmt.Errorf("exactly one of --enable or --disable is required")
		}
		return withStore(func(_ *config.Config, st *store) error {
			sc, err := st.schedules.Get(ctx, id)
			if err != nil {
				return err
			}
			if sc == nil {
				return fmt.Errorf("schedule %s not found", id)
			}
			sc.Enabled = *enable
			if err := st.schedules.Update(ctx, sc); err != nil {
				return err
			}
			fmt.Printf("Schedule %s enabled=%v\n", id, sc.Enabled)
			return nil
		})

	default:
		return fmt.Errorf("unknown schedules subcommand %q", args[0])
	}
}

// triggerSchedule loads the schedule and its meeting and records it
// synchronously in this process, using the same jobrunner/worker wiring
// the daemon runs in the background. There is no IPC to the daemon's own
// in-flight worker: this is a foreground, one-off execution path that never
// talks to a separately-running daemon process.
func triggerSchedule(scheduleID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	recordingsDir := filepath.Join(cfg.Server.DataDir, "recordings")
	diagnosticsDir := filepath.Join(cfg.Server.DataDir, "diagnostics")
	for _, dir := range []string{recordingsDir, diagnosticsDir} {
		if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // diagnostics bundles are read by operators via this same CLI
			return err
		}
	}

	rec := worker.New(worker.Config{
		CaptureEnv: captureenv.Config{
			LockDir:     filepath.Join(cfg.Server.DataDir, "displays"),
			DisplayBase: 99,
			MaxDisplays: 20,
		},
		RecordingsDir:  recordingsDir,
		DiagnosticsDir: diagnosticsDir,
		FFmpegPath:     cfg.Recording.FFmpegPath,
		CheckInterval:  cfg.Recording.CheckInterval,
		JoinTimeout:    cfg.Recording.JoinTimeout,
		Logger:         logger,
		DetectionLogs:  st.detectionLogs,
	})

	notif := notifier.New(consoleSink{}, 16, logger)
	notifCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()
	go func() { _ = notif.Run(notifCtx) }()

	runner := jobrunner.New(jobrunner.Config{
		Worker:         rec,
		Schedules:      st.schedules,
		Meetings:       st.meetings,
		Jobs:           st.jobs,
		Notifier:       notif,
		Uploader:       noop.New(),
		DiagnosticsDir: diagnosticsDir,
		UploadPrivacy:  cfg.Upload.DefaultPrivacy,
		Logger:         logger,
	})

	if !runner.QueueSchedule(scheduleID) {
		return fmt.Errorf("a recording is already in progress (queued for when it finishes)")
	}

	// QueueSchedule never blocks: it hands execution to a goroutine. Poll
	// IsBusy until that goroutine's defer releases the lock so this
	// foreground command doesn't exit before the recording does.
	for runner.IsBusy() {
		time.Sleep(500 * time.Millisecond)
	}
	// Let the last notifier event drain before tearing the dispatcher down.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// consoleSink is the Sink triggerSchedule wires into its own short-lived
// notifier dispatcher: it prints progress to stdout.
type consoleSink struct{}

func (consoleSink) Started(_ context.Context, job model.Job) (string, error) {
	fmt.Printf("started: %s\n", job.ID)
	return job.ID, nil
}
func (consoleSink) Completed(_ context.Context, job model.Job) error {
	fmt.Printf("completed: %s (%s)\n", job.ID, job.EndReason)
	return nil
}
func (consoleSink) Failed(_ context.Context, job model.Job) error {
	fmt.Printf("failed: %s (%s: %s)\n", job.ID, job.ErrorCode, job.ErrorMessage)
	return nil
}
func (consoleSink) Canceled(_ context.Context, job model.Job) error {
	fmt.Printf("canceled: %s\n", job.ID)
	return nil
}
func (consoleSink) Retry(_ context.Context, job model.Job, attempt int, nextDelaySec float64, errMsg string) error {
	fmt.Printf("retrying: %s attempt=%d delay=%.0fs err=%s\n", job.ID, attempt, nextDelaySec, errMsg)
	return nil
}
func (consoleSink) Uploaded(_ context.Context, job model.Job, videoURL string) error {
	fmt.Printf("uploaded: %s -> %s\n", job.ID, videoURL)
	return nil
}

// --- jobs ---

func runJobs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: jobs list|show|cancel|diagnostics")
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("jobs list", flag.ExitOnError)
		limit := fs.Int("limit", 20, "max jobs to show")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return withStore(func(_ *config.Config, st *store) error {
			jobs, err := st.jobs.GetAll(ctx, *limit, 0)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs recorded.")
				return nil
			}
			for _, j := range jobs {
				fmt.Printf("%-10s %-10s %-8s %s\n", j.ID, j.Status, j.Provider, j.CreatedAt.Format(time.RFC3339))
			}
			return nil
		})

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: jobs show <id>")
		}
		id := args[1]
		return withStore(func(_ *config.Config, st *store) error {
			j, err := st.jobs.GetByJobID(ctx, id)
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("job %s not found", id)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		})

	case "cancel":
		if len(args) < 2 {
			return fmt.Errorf("usage: jobs cancel <id>")
		}
		id := args[1]
		return withStore(func(_ *config.Config, st *store) error {
			j, err := st.jobs.GetByJobID(ctx, id)
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("job %s not found", id)
			}
			if j.Status.Terminal() {
				return fmt.Errorf("job %s is already %s", id, j.Status)
			}
			// A job actively being recorded by a running daemon is owned by
			// that process's Worker; this only rewrites the persisted row, it
			// does not reach into another process's in-flight capture. An
			// operator cancelling a truly live recording should restart the
			// daemon's worker or use the in-process RequestCancel path
			// exposed to the daemon itself.
			endReason := model.EndReasonCanceled
			ok, err := st.jobs.UpdateStatus(ctx, id, model.StatusCanceled, persistence.JobFields{EndReason: &endReason})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s not found", id)
			}
			fmt.Printf("Marked job %s canceled\n", id)
			return nil
		})

	case "diagnostics":
		if len(args) < 2 {
			return fmt.Errorf("usage: jobs diagnostics <id> [--tail=FILE]")
		}
		id := args[1]
		fs := flag.NewFlagSet("jobs diagnostics", flag.ExitOnError)
		tail := fs.String("tail", "", "print this artifact's contents (e.g. console.log)")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return withStore(func(_ *config.Config, st *store) error {
			j, err := st.jobs.GetByJobID(ctx, id)
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("job %s not found", id)
			}
			if j.DiagnosticsDir == "" {
				fmt.Printf("Job %s has no diagnostic bundle.\n", id)
				return nil
			}
			if *tail == "" {
				fmt.Println(j.DiagnosticsDir)
				return nil
			}
			f, err := os.Open(filepath.Join(j.DiagnosticsDir, *tail)) // #nosec G304 -- operator-supplied artifact name under a job's own bundle dir
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			_, err = io.Copy(os.Stdout, f)
			return err
		})

	default:
		return fmt.Errorf("unknown jobs subcommand %q", args[0])
	}
}

// --- health ---

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "", "daemon health address (default: from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target := *addr
	if target == "" {
		target = cfg.Health.Addr
	}

	resp, err := http.Get("http://" + strings.TrimPrefix(target, "http://") + "/healthz") // #nosec G107 -- target is operator/config-controlled, not request input
	if err != nil {
		return fmt.Errorf("query daemon health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Status:", resp.StatusCode)
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

// --- config ---

func runConfig(args []string) error {
	if len(args) == 0 || args[0] != "validate" {
		return fmt.Errorf("usage: config validate")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid: %w", err)
	}
	fmt.Printf("Configuration at %s is valid.\n", *configPath)
	return nil
}

// --- doctor ---

// runDoctor runs the diagnostics suite against the configured paths. A
// non-healthy report exits non-zero so "doctor" can gate provisioning
// scripts.
func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	quick := fs.Bool("quick", false, "run essential checks only")
	asJSON := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := diagnostics.DefaultOptions()
	opts.ConfigPath = *configPath
	opts.DataDir = cfg.Server.DataDir
	opts.LockDir = filepath.Join(cfg.Server.DataDir, "displays")
	opts.HealthAddr = cfg.Health.Addr
	if *quick {
		opts.Mode = diagnostics.ModeQuick
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := diagnostics.NewRunner(opts).Run(ctx)
	if err != nil {
		return fmt.Errorf("run diagnostics: %w", err)
	}

	if *asJSON {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		diagnostics.PrintReport(os.Stdout, report)
	}

	if !report.Healthy {
		return fmt.Errorf("diagnostics found issues")
	}
	return nil
}

// --- update ---

func runUpdate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: update check | apply")
	}

	u := updater.New(
		updater.WithOwner("eyeduck-ai"),
		updater.WithRepo("meeting-recorder"),
		updater.WithCurrentVersion(Version),
	)
	ctx := context.Background()

	switch args[0] {
	case "check":
		info, err := u.CheckForUpdates(ctx)
		if err != nil {
			return fmt.Errorf("check for updates: %w", err)
		}
		fmt.Print(updater.FormatUpdateInfo(info))
		return nil
	case "apply":
		info, err := u.CheckForUpdates(ctx)
		if err != nil {
			return fmt.Errorf("check for updates: %w", err)
		}
		if !info.UpdateAvailable {
			fmt.Println("Already running the latest version.")
			return nil
		}
		binaryPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate running binary: %w", err)
		}
		fmt.Printf("Updating %s -> %s\n", info.CurrentVersion, info.LatestVersion)
		if err := u.Update(ctx, info, binaryPath, nil); err != nil {
			return fmt.Errorf("apply update: %w", err)
		}
		fmt.Println("Update applied. Restart meeting-recorderctl to use the new version.")
		return nil
	default:
		return fmt.Errorf("usage: update check | apply")
	}
}
