// SPDX-License-Identifier: MIT

// Package jobrunner serializes recording work
// behind a single-flight "recording lock" with a FIFO queue of waiting
// schedule ids, runs the retry loop that bounds retryable failures to the
// meeting's end time, and fans successfully recorded, upload-enabled Jobs
// out to a second, independently serialized "upload lock".
//
// JobRunner is the seam between internal/scheduler (which only knows a
// schedule id fired) and internal/worker (which only knows how to record
// one already-built Job): it loads the Schedule and Meeting, computes the
// fixed-duration deadline, builds the Job, and drives the worker through
// however many retry attempts the retryable-error budget allows.
package jobrunner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/notifier"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
	"github.com/eyeduck-ai/meeting-recorder/internal/stream"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
	"github.com/eyeduck-ai/meeting-recorder/internal/util"
	"github.com/eyeduck-ai/meeting-recorder/internal/worker"
)

const (
	initialRetryDelay = 15 * time.Second
	maxRetryDelay     = 300 * time.Second
	uploadTimeout     = 2 * time.Hour
)

// retryableSubstrings are matched, case-insensitively, against a failed
// Job's error message. A match means the failure is transient network
// trouble worth retrying within the meeting's remaining window; anything
// else fails the Job immediately.
var retryableSubstrings = []string{
	"dns",
	"name resolution",
	"no such host",
	"connection reset",
	"connection refused",
	"connection timed out",
	"i/o timeout",
	"timeout",
	"network error",
	"net/http: tls handshake timeout",
}

func isRetryable(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, s := range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Config wires a JobRunner's collaborators.
type Config struct {
	Worker    *worker.Worker
	Schedules persistence.ScheduleRepository
	Meetings  persistence.MeetingRepository
	Jobs      persistence.JobRepository
	Notifier  *notifier.Notifier // optional
	Uploader  uploader.Uploader  // optional; uploads are skipped if nil

	// DiagnosticsDir must match the Worker's own DiagnosticsDir so the
	// runner can record the same per-job bundle path the worker wrote to.
	DiagnosticsDir string
	UploadPrivacy  string

	// Location is the zone cron windows and deadlines are computed in;
	// defaults to time.UTC if nil. Must match the Scheduler's Location so a
	// schedule arms and its deadline is bounded in the same zone.
	Location *time.Location

	Logger *slog.Logger
}

// JobRunner serializes recording execution behind a single recording lock
// plus a FIFO wait queue of schedule ids, and uploads behind a second,
// independent lock.
type JobRunner struct {
	cfg Config

	mu                sync.Mutex
	busy              bool
	currentScheduleID string
	queue             []string

	uploadMu sync.Mutex
}

// New returns an idle JobRunner.
func New(cfg Config) *JobRunner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &JobRunner{cfg: cfg}
}

// Name implements supervisor.Service.
func (r *JobRunner) Name() string { return "jobrunner" }

// Run implements supervisor.Service. JobRunner has no loop of its own — it
// is driven reactively by Scheduler.Trigger (via QueueSchedule) and by
// operator-initiated RunImmediate calls — so Run simply blocks for the
// supervision tree's lifetime, the same "service with no internal loop"
// shape the notifier's dispatcher does not share but the health server's
// passive HTTP handler does.
func (r *JobRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// IsBusy reports whether a recording is currently in flight.
func (r *JobRunner) IsBusy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// CurrentScheduleID returns the schedule id currently holding the
// recording lock, or "" if idle or the in-flight job was an immediate run.
func (r *JobRunner) CurrentScheduleID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentScheduleID
}

// QueueLength returns the number of schedule ids waiting for the recording
// lock.
func (r *JobRunner) QueueLength() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Trigger adapts JobRunner to scheduler.TriggerFunc: the scheduler's own
// context is bounded to 30s (just long enough to invoke the callback), far
// shorter than a recording, so Trigger hands scheduleID to QueueSchedule
// and returns immediately rather than blocking the scheduler on ctx.
func (r *JobRunner) Trigger(_ context.Context, scheduleID string) {
	r.QueueSchedule(scheduleID)
}

// QueueSchedule runs scheduleID's execution immediately if the recording
// lock is free, or appends it to the FIFO wait queue otherwise. It never
// blocks: a free lock starts the recording in a background goroutine at
// once, and a queued id is started by release when the current run
// finishes. It always returns true.
func (r *JobRunner) QueueSchedule(scheduleID string) bool {
	r.mu.Lock()
	if !r.busy {
		r.busy = true
		r.currentScheduleID = scheduleID
		r.mu.Unlock()
		util.SafeGo("jobrunner.execute", r.cfg.Logger, func() { r.executeSchedule(scheduleID) }, nil)
		return true
	}
	r.queue = append(r.queue, scheduleID)
	r.mu.Unlock()
	return true
}

// RunImmediate runs job one-shot, bypassing the Schedule/Meeting lookup:
// the caller (e.g. the operator CLI) has already built a complete Job. It
// returns "" without queueing if the recording lock is already held: an
// ad hoc immediate run never waits in the FIFO queue behind scheduled work.
func (r *JobRunner) RunImmediate(job *model.Job) string {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return ""
	}
	r.busy = true
	r.currentScheduleID = ""
	r.mu.Unlock()

	if job.ID == "" {
		job.ID = model.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = model.StatusQueued
	if job.DeadlineAt == nil {
		d := job.CreatedAt.Add(time.Duration(job.DurationSec) * time.Second)
		job.DeadlineAt = &d
	}

	if err := r.cfg.Jobs.Create(context.Background(), job); err != nil {
		r.logf(slog.LevelError, "immediate run: create job failed", "err", err)
		r.release()
		return ""
	}

	deadline := *job.DeadlineAt
	util.SafeGo("jobrunner.immediate", r.cfg.Logger, func() {
		defer r.release()
		r.runRetryLoop(context.Background(), job, deadline)
	}, nil)
	return job.ID
}

// executeSchedule is the per-execution flow for a schedule-triggered run:
// load Schedule and Meeting, compute the deadline,
// build and persist the Job, then run the retry loop. The recording lock,
// acquired by the caller (QueueSchedule/release), is always released via
// defer so a missing/disabled Schedule or Meeting never wedges the queue.
func (r *JobRunner) executeSchedule(scheduleID string) {
	defer r.release()
	ctx := context.Background()

	sched, err := r.cfg.Schedules.Get(ctx, scheduleID)
	if err != nil {
		r.logf(slog.LevelError, "load schedule failed, skipping", "schedule", scheduleID, "err", err)
		return
	}
	if sched == nil || !sched.Enabled {
		r.logf(slog.LevelWarn, "schedule missing or disabled, skipping", "schedule", scheduleID)
		return
	}
	meeting, err := r.cfg.Meetings.Get(ctx, sched.MeetingID)
	if err != nil || meeting == nil {
		r.logf(slog.LevelError, "meeting missing, skipping schedule", "schedule", scheduleID, "meeting", sched.MeetingID, "err", err)
		return
	}

	now := time.Now().In(r.cfg.Location)
	deadlineAt := computeDeadline(sched, now)
	meetingEndTime := deadlineAt

	job := buildJob(sched, meeting, sched.DurationSec, &deadlineAt)
	if err := r.cfg.Jobs.Create(ctx, job); err != nil {
		r.logf(slog.LevelError, "create job failed", "schedule", scheduleID, "err", err)
		return
	}

	r.runRetryLoop(ctx, job, meetingEndTime)
}

// release drops the recording lock and, if another schedule id is waiting,
// immediately hands the lock to it and starts its execution — preserving
// FIFO order across however many schedules queued up while busy.
func (r *JobRunner) release() {
	r.mu.Lock()
	var next string
	if len(r.queue) > 0 {
		next = r.queue[0]
		r.queue = r.queue[1:]
		r.currentScheduleID = next
	} else {
		r.busy = false
		r.currentScheduleID = ""
	}
	r.mu.Unlock()

	if next != "" {
		util.SafeGo("jobrunner.execute", r.cfg.Logger, func() { r.executeSchedule(next) }, nil)
	}
}

// runRetryLoop runs the worker, persisting every status transition as it
// happens, and on a retryable failure sleeps with exponential backoff
// (stream.Backoff) before rebuilding the Job's remaining duration and trying
// again, as long as time remains before meetingEndTime. On a terminal
// outcome it notifies and, for a successful upload-enabled recording, fans
// out to the upload lock.
func (r *JobRunner) runRetryLoop(ctx context.Context, job *model.Job, meetingEndTime time.Time) {
	backoff := stream.NewBackoff(initialRetryDelay, maxRetryDelay, 1<<30)
	attempt := 0
	started := false

	for {
		r.cfg.Worker.SetStatusCallback(func(jobID string, status model.Status) {
			r.onStatusTransition(job, status, &started)
		})

		result := r.cfg.Worker.Record(ctx, job)

		retrying := false
		if result.Status == model.StatusFailed && isRetryable(result.ErrorMessage) {
			delay := backoff.CurrentDelay()
			retrying = time.Now().UTC().Add(delay).Before(meetingEndTime)
		}

		if !retrying {
			// Final outcome for this Job: persist the terminal result now.
			// Persisting on every loop pass (including attempts about to be
			// retried) would write a terminal status the next attempt's own
			// starting transition could never legally follow.
			r.applyResult(job, result)
			break
		}
		attempt++
		delay := backoff.CurrentDelay()

		if r.cfg.Notifier != nil {
			r.cfg.Notifier.Retry(*job, attempt, delay.Seconds(), result.ErrorMessage)
		}
		r.logf(slog.LevelWarn, "retrying job after retryable failure", "job", job.ID, "attempt", attempt, "delay", delay, "err", result.ErrorMessage)

		if err := backoff.WaitContext(ctx); err != nil {
			return
		}
		backoff.RecordFailure()

		remaining := meetingEndTime.Sub(time.Now().UTC())
		if remaining <= 0 {
			r.applyResult(job, result)
			break
		}
		job.DurationSec = int(remaining.Seconds())
		r.resetForRetry(job)
	}

	if job.Status == model.StatusSucceeded && job.UploadEnabled && job.Recording != nil && r.cfg.Uploader != nil {
		r.scheduleUpload(job)
	}

	if r.cfg.Notifier == nil {
		return
	}
	switch job.Status {
	case model.StatusSucceeded:
		r.cfg.Notifier.Completed(*job)
	case model.StatusFailed:
		r.cfg.Notifier.Failed(*job)
	case model.StatusCanceled:
		r.cfg.Notifier.Canceled(*job)
	}
}

// onStatusTransition is the worker's per-transition status callback: it
// writes the appropriate timestamp for the new status and, on first entry
// to recording, emits the start notification and persists the returned
// message id.
func (r *JobRunner) onStatusTransition(job *model.Job, status model.Status, started *bool) {
	job.Status = status
	now := time.Now().UTC()
	fields := persistence.JobFields{}

	switch status {
	case model.StatusStarting:
		job.StartedAt = &now
		fields.StartedAt = &now
	case model.StatusRecording:
		if job.JoinedAt == nil {
			job.JoinedAt = &now
			fields.JoinedAt = &now
		}
		if job.RecordingStartedAt == nil {
			job.RecordingStartedAt = &now
			fields.RecordingStartedAt = &now
		}
		if !*started {
			*started = true
			if r.cfg.Notifier != nil {
				msgID := r.cfg.Notifier.Started(*job)
				if msgID != "" {
					job.NotificationMessageID = msgID
					fields.NotificationMessageID = &msgID
				}
			}
		}
	case model.StatusFinalizing:
		job.RecordingStoppedAt = &now
		fields.RecordingStoppedAt = &now
	}

	if ok, err := r.cfg.Jobs.UpdateStatus(context.Background(), job.ID, status, fields); err != nil {
		r.logf(slog.LevelError, "persist status transition failed", "job", job.ID, "status", status, "err", err)
	} else if !ok {
		r.logf(slog.LevelWarn, "status update matched no job row", "job", job.ID, "status", status)
	}
}

// applyResult persists the worker's terminal RecordingResult onto job and
// the store.
func (r *JobRunner) applyResult(job *model.Job, result worker.RecordingResult) {
	job.Status = result.Status
	job.ErrorCode = result.ErrorCode
	job.ErrorMessage = result.ErrorMessage
	job.EndReason = result.EndReason
	if result.Recording != nil {
		job.Recording = result.Recording
	}
	if result.Diagnostics != nil && r.cfg.DiagnosticsDir != "" {
		job.DiagnosticsDir = filepath.Join(r.cfg.DiagnosticsDir, job.ID)
		job.Diagnostics = model.DiagnosticFlags{HasScreenshot: true, HasHTMLDump: true, HasConsoleLog: true}
	}
	now := time.Now().UTC()
	job.CompletedAt = &now

	fields := persistence.JobFields{
		ErrorCode:    &job.ErrorCode,
		ErrorMessage: &job.ErrorMessage,
		EndReason:    &job.EndReason,
		CompletedAt:  &now,
	}
	if result.Recording != nil {
		fields.Recording = result.Recording
	}
	if result.Diagnostics != nil && r.cfg.DiagnosticsDir != "" {
		fields.Diagnostics = &job.Diagnostics
		fields.DiagnosticsDir = &job.DiagnosticsDir
	}

	if ok, err := r.cfg.Jobs.UpdateStatus(context.Background(), job.ID, job.Status, fields); err != nil {
		r.logf(slog.LevelError, "persist terminal result failed", "job", job.ID, "err", err)
	} else if !ok {
		r.logf(slog.LevelWarn, "terminal update matched no job row", "job", job.ID)
	}
}

// resetForRetry clears a retried attempt's stale error fields and rearms the
// persisted Job back to queued, the one status CanTransition allows the next
// attempt's starting transition to follow.
func (r *JobRunner) resetForRetry(job *model.Job) {
	job.Status = model.StatusQueued
	job.ErrorCode = ""
	job.ErrorMessage = ""

	if ok, err := r.cfg.Jobs.UpdateStatus(context.Background(), job.ID, model.StatusQueued, persistence.JobFields{}); err != nil {
		r.logf(slog.LevelError, "persist retry reset failed", "job", job.ID, "err", err)
	} else if !ok {
		r.logf(slog.LevelWarn, "retry reset matched no job row", "job", job.ID)
	}
}

// scheduleUpload fans a succeeded, upload-enabled Job out to the upload
// lock: a background goroutine that serializes all uploads independently
// of the recording lock.
func (r *JobRunner) scheduleUpload(job *model.Job) {
	util.SafeGo("jobrunner.upload", r.cfg.Logger, func() {
		r.uploadMu.Lock()
		defer r.uploadMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()

		if _, err := r.cfg.Jobs.UpdateStatus(ctx, job.ID, model.StatusUploading, persistence.JobFields{}); err != nil {
			r.logf(slog.LevelError, "upload: mark uploading failed", "job", job.ID, "err", err)
		}

		meta := uploader.Metadata{
			Title:   fmt.Sprintf("Recording %s", job.ID),
			Privacy: r.cfg.UploadPrivacy,
		}
		res, err := r.cfg.Uploader.Upload(ctx, job.Recording.ArtifactPath, meta, nil)

		fields := persistence.JobFields{}
		if err != nil {
			r.logf(slog.LevelError, "upload failed", "job", job.ID, "err", err)
		} else {
			now := time.Now().UTC()
			job.HostedVideoID = res.VideoID
			job.YoutubeUploadedAt = &now
			fields.HostedVideoID = &res.VideoID
			fields.YoutubeUploadedAt = &now
			if r.cfg.Notifier != nil {
				r.cfg.Notifier.Uploaded(*job, res.VideoURL)
			}
		}

		if _, err := r.cfg.Jobs.UpdateStatus(ctx, job.ID, model.StatusSucceeded, fields); err != nil {
			r.logf(slog.LevelError, "upload: restore succeeded status failed", "job", job.ID, "err", err)
		}
	}, nil)
}

func (r *JobRunner) logf(level slog.Level, msg string, args ...any) {
	if r.cfg.Logger == nil {
		return
	}
	r.cfg.Logger.Log(context.Background(), level, msg, args...)
}

// buildJob snapshots a Schedule×Meeting pair into a fresh Job: later edits
// to either row never retroactively change an
// already-queued or in-flight Job.
func buildJob(sched *model.Schedule, meeting *model.Meeting, durationSec int, deadlineAt *time.Time) *model.Job {
	return &model.Job{
		ID:               model.NewJobID(),
		ScheduleID:       sched.ID,
		Provider:         meeting.Provider,
		SiteBaseURL:      meeting.SiteBaseURL,
		RoomCode:         sched.EffectiveRoomCode(meeting),
		Password:         meeting.Password,
		ParticipantName:  sched.EffectiveDisplayName(meeting),
		DurationSec:      durationSec,
		DurationMode:     sched.DurationMode,
		AutoDetectMode:   sched.AutoDetectMode,
		MinDurationSec:   sched.MinDurationSec,
		LobbyWaitSec:     sched.LobbyWaitSec,
		Resolution:       sched.Resolution,
		LayoutPreset:     sched.LayoutPreset,
		DryRun:           sched.DryRun,
		StillnessTimeout: sched.StillnessTimeout,
		DeadlineAt:       deadlineAt,
		Status:           model.StatusQueued,
		CreatedAt:        time.Now().UTC(),
		UploadEnabled:    sched.UploadEnabled,
	}
}

// computeDeadline derives deadline_at for fixed-duration retry bounding:
// for a one-shot schedule, its own start_time plus
// duration; for a recurring cron schedule, the current window's start
// (found by stepping the expression backwards from now) plus duration.
// Falls back to last_run_at, then next_run_at, then now, so a catch-up run
// against a stale last_run_at still gets a sane (if approximate) deadline.
func computeDeadline(sched *model.Schedule, now time.Time) time.Time {
	duration := time.Duration(sched.DurationSec) * time.Second

	if sched.Type == model.ScheduleOnce {
		return sched.StartTime.Add(duration)
	}

	start, err := lastCronFireBefore(sched.CronExpr, now)
	if err != nil {
		switch {
		case sched.LastRunAt != nil:
			start = *sched.LastRunAt
		case sched.NextRunAt != nil:
			start = *sched.NextRunAt
		default:
			start = now
		}
	}
	return start.Add(duration)
}

// lastCronFireBefore returns the most recent time expr would have fired at
// or before now, by stepping the parsed schedule forward from a lookback
// window until it passes now. The window doubles (up to a year) if the
// expression is sparse enough that no fire falls within it.
func lastCronFireBefore(expr string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobrunner: parse cron expression %q: %w", expr, err)
	}

	const maxLookback = 366 * 24 * time.Hour
	for lookback := 24 * time.Hour; lookback <= maxLookback; lookback *= 2 {
		t := now.Add(-lookback)
		var last time.Time
		found := false
		for {
			next := schedule.Next(t)
			if next.After(now) {
				break
			}
			last, found, t = next, true, next
		}
		if found {
			return last, nil
		}
	}
	return time.Time{}, fmt.Errorf("jobrunner: no fire of %q found within %v of %v", expr, maxLookback, now)
}
