// SPDX-License-Identifier: MIT

// Package scheduler arms persisted Schedule rows against a cron engine and
// fires a TriggerFunc at each scheduled time. It wraps robfig/cron/v3: every
// Schedule, whether a one-shot ("once") or recurring ("cron") fire, becomes
// exactly one cron entry, with one-shot entries self-removing after their
// single fire.
//
// Scheduler implements internal/supervisor.Service (Name/Run), the same
// shape every other long-running component in this system uses, so it can
// be registered into the process supervision tree alongside the job runner
// and notifier.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eyeduck-ai/meeting-recorder/internal/cronconv"
	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

// TriggerFunc is invoked when a Schedule fires. scheduleID identifies the
// row that fired; the caller (the job runner) is responsible for resolving
// the Schedule and its Meeting and enqueueing a Job.
type TriggerFunc func(ctx context.Context, scheduleID string)

// Config controls Scheduler construction.
type Config struct {
	Schedules persistence.ScheduleRepository
	Jobs      persistence.JobRepository
	Trigger   TriggerFunc
	Logger    *slog.Logger
	Location  *time.Location // defaults to time.UTC
}

// Scheduler arms every enabled Schedule against an in-process cron engine
// and fires Config.Trigger at each scheduled time.
type Scheduler struct {
	cfg Config
	cr  *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // schedule id -> cron entry
}

// New returns an unarmed Scheduler. Call Run to start it.
func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		cfg:     cfg,
		cr:      cron.New(cron.WithLocation(cfg.Location), cron.WithSeconds()),
		entries: make(map[string]cron.EntryID),
	}
}

// Name identifies this service to the supervision tree.
func (s *Scheduler) Name() string { return "scheduler" }

// Run performs the startup orphan sweep (any Job left in a non-terminal
// status by an unclean shutdown is rewritten to failed), arms every enabled
// Schedule, then blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.sweepOrphans(ctx); err != nil {
		s.logf(slog.LevelError, "orphan sweep failed", "err", err)
	}

	if err := s.armAll(ctx); err != nil {
		return fmt.Errorf("scheduler: arm schedules: %w", err)
	}

	s.cr.Start()
	s.logf(slog.LevelInfo, "scheduler started")

	<-ctx.Done()

	stopCtx := s.cr.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
	}
	return ctx.Err()
}

// sweepOrphans rewrites every Job left in a non-terminal status to failed
// with a fixed message, before any schedule is armed, so a process restart
// can never leave a Job silently stuck in e.g. "recording" forever.
func (s *Scheduler) sweepOrphans(ctx context.Context) error {
	nonTerminal := []model.Status{
		model.StatusQueued, model.StatusStarting, model.StatusJoining,
		model.StatusWaitingLobby, model.StatusRecording, model.StatusFinalizing,
		model.StatusUploading,
	}

	swept := 0
	for _, status := range nonTerminal {
		jobs, err := s.cfg.Jobs.GetByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("scheduler: list %s jobs: %w", status, err)
		}
		for _, j := range jobs {
			msg := "Job interrupted by server restart"
			code := model.ErrInternal
			reason := model.EndReasonFailed
			ok, err := s.cfg.Jobs.UpdateStatus(ctx, j.ID, model.StatusFailed, persistence.JobFields{
				ErrorCode:    &code,
				ErrorMessage: &msg,
				EndReason:    &reason,
			})
			if err != nil {
				s.logf(slog.LevelError, "orphan sweep: update job failed", "job", j.ID, "err", err)
				continue
			}
			if ok {
				swept++
			}
		}
	}
	if swept > 0 {
		s.logf(slog.LevelWarn, "orphan sweep rewrote interrupted jobs", "count", swept)
	}
	return nil
}

// armAll loads every enabled Schedule and registers a cron entry for each.
func (s *Scheduler) armAll(ctx context.Context) error {
	schedules, err := s.cfg.Schedules.GetAllEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled schedules: %w", err)
	}
	for _, sched := range schedules {
		if err := s.Arm(sched); err != nil {
			s.logf(slog.LevelError, "arm schedule failed", "schedule", sched.ID, "err", err)
		}
	}
	return nil
}

// Arm adds sched as a new cron entry, or replaces its existing entry if one
// is already armed (AddSchedule/UpdateSchedule are both idempotent through
// this single method: re-arming a known schedule id first disarms it).
func (s *Scheduler) Arm(sched *model.Schedule) error {
	spec, err := specFor(sched, s.cfg.Location)
	if err != nil {
		return fmt.Errorf("scheduler: build cron spec for %s: %w", sched.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[sched.ID]; ok {
		s.cr.Remove(existing)
		delete(s.entries, sched.ID)
	}

	id := sched.ID
	oneShot := sched.Type == model.ScheduleOnce
	job := cron.FuncJob(func() { s.fire(id, oneShot) })

	entryID, err := s.cr.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("scheduler: add cron entry: %w", err)
	}
	s.entries[sched.ID] = entryID

	if next := s.nextFor(entryID); next != nil {
		_ = s.cfg.Schedules.UpdateRunTimes(context.Background(), sched.ID, sched.LastRunAt, next)
	}
	return nil
}

// Disarm removes sched's cron entry, if any. Safe to call on an id that was
// never armed.
func (s *Scheduler) Disarm(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[scheduleID]; ok {
		s.cr.Remove(id)
		delete(s.entries, scheduleID)
	}
}

// Trigger fires scheduleID immediately, out of band from its cron entry,
// without disturbing that entry's next scheduled fire.
func (s *Scheduler) Trigger(ctx context.Context, scheduleID string) {
	s.fire(scheduleID, false)
}

// fire is the cron callback: it updates last_run_at/next_run_at, invokes
// Config.Trigger, and — for a one-shot schedule — disarms itself so it
// never fires twice.
func (s *Scheduler) fire(scheduleID string, oneShot bool) {
	now := time.Now().UTC()

	s.mu.Lock()
	entryID, armed := s.entries[scheduleID]
	s.mu.Unlock()

	var next *time.Time
	if armed {
		next = s.nextFor(entryID)
	}
	if err := s.cfg.Schedules.UpdateRunTimes(context.Background(), scheduleID, &now, next); err != nil {
		s.logf(slog.LevelError, "update run times failed", "schedule", scheduleID, "err", err)
	}

	if oneShot {
		s.Disarm(scheduleID)
	}

	if s.cfg.Trigger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.cfg.Trigger(ctx, scheduleID)
	}
}

// nextFor returns the next fire time of an armed cron entry, or nil once
// the entry is gone (e.g. a one-shot that already removed itself).
func (s *Scheduler) nextFor(id cron.EntryID) *time.Time {
	entry := s.cr.Entry(id)
	if entry.ID == 0 && entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}

func (s *Scheduler) logf(level slog.Level, msg string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Log(context.Background(), level, msg, args...)
}

// specFor builds a robfig/cron/v3 six-field spec (seconds-first, since this
// Scheduler is constructed WithSeconds) for sched.
//
// A "once" schedule fires at its exact StartTime by encoding that instant's
// second/minute/hour/day/month directly, with a literal "*" day-of-week
// field; self-removal after the single fire is handled by fire's oneShot
// path, not by the cron spec itself. The instant is converted into loc
// first, since the cron engine (constructed WithLocation(loc)) interprets
// every numeric field of the spec in that zone — encoding it in UTC
// regardless of loc would arm the one-shot at the wrong wall-clock instant
// whenever loc isn't UTC. A "cron" schedule's CronExpr already carries
// POSIX weekday digits (0=Sun..6=Sat); those are re-expressed as the
// SUN..SAT day names cronconv.Name returns, since robfig's numeric weekday
// field is POSIX-numbered too and a raw digit would silently mean the right
// thing by coincidence for single days but the wrong thing the moment a
// list or range of weekdays is used — names make the expression
// convention-proof either way.
func specFor(sched *model.Schedule, loc *time.Location) (string, error) {
	switch sched.Type {
	case model.ScheduleOnce:
		if loc == nil {
			loc = time.UTC
		}
		t := sched.StartTime.In(loc)
		return fmt.Sprintf("%d %d %d %d %d *", t.Second(), t.Minute(), t.Hour(), t.Day(), int(t.Month())), nil
	case model.ScheduleCron:
		return rewriteDowNames(sched.CronExpr)
	default:
		return "", fmt.Errorf("unknown schedule type %q", sched.Type)
	}
}

// rewriteDowNames rewrites a standard five-field POSIX cron expression
// ("minute hour dom month dow") into robfig's six-field seconds-first form,
// translating any bare weekday digit in the dow field to its SUN..SAT name.
func rewriteDowNames(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(fields))
	}
	dow, err := rewriteDowField(fields[4])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0 %s %s %s %s %s", fields[0], fields[1], fields[2], fields[3], dow), nil
}

func rewriteDowField(field string) (string, error) {
	if field == "*" {
		return field, nil
	}
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		lo, hi, isRange := strings.Cut(p, "-")
		loName, err := digitOrPassthrough(lo)
		if err != nil {
			return "", err
		}
		if !isRange {
			out = append(out, loName)
			continue
		}
		hiName, err := digitOrPassthrough(hi)
		if err != nil {
			return "", err
		}
		out = append(out, loName+"-"+hiName)
	}
	return strings.Join(out, ","), nil
}

// digitOrPassthrough converts a single POSIX weekday digit to its SUN..SAT
// name, leaving anything that is not a bare 0-6 digit (e.g. a step
// expression fragment) untouched.
func digitOrPassthrough(s string) (string, error) {
	if len(s) != 1 || s[0] < '0' || s[0] > '6' {
		return s, nil
	}
	name, err := cronconv.Name(int(s[0] - '0'))
	if err != nil {
		return "", err
	}
	return name, nil
}
