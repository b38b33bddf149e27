// SPDX-License-Identifier: MIT

package jobrunner

import (
	"context"
	"testing"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence/memstore"
	"github.com/eyeduck-ai/meeting-recorder/internal/worker"
)

// TestIsRetryable verifies the retryable-error substring classifier.
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"", false},
		{"dial tcp: lookup meet.example.com: no such host", true},
		{"read tcp 10.0.0.1:443: connection reset by peer", true},
		{"context deadline exceeded (Client.Timeout exceeded while awaiting headers)", true},
		{"PASSWORD_INCORRECT", false},
		{"kicked from meeting by host", false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.msg); got != tt.want {
			t.Errorf("isRetryable(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

// TestComputeDeadlineOnce verifies a one-shot schedule's deadline is its own
// start time plus duration.
func TestComputeDeadlineOnce(t *testing.T) {
	start := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	sched := &model.Schedule{Type: model.ScheduleOnce, StartTime: start, DurationSec: 1800}

	got := computeDeadline(sched, start.Add(5*time.Minute))
	want := start.Add(1800 * time.Second)
	if !got.Equal(want) {
		t.Errorf("computeDeadline() = %v, want %v", got, want)
	}
}

// TestLastCronFireBeforeFindsPreviousDailyFire verifies the backwards-
// stepping search lands on the most recent fire strictly at or before now,
// landing on the current window's start for cron-triggered schedules.
func TestLastCronFireBeforeFindsPreviousDailyFire(t *testing.T) {
	now := time.Date(2026, time.June, 3, 9, 30, 0, 0, time.UTC)
	got, err := lastCronFireBefore("0 9 * * *", now)
	if err != nil {
		t.Fatalf("lastCronFireBefore() error = %v", err)
	}
	want := time.Date(2026, time.June, 3, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("lastCronFireBefore() = %v, want %v", got, want)
	}
}

// TestComputeDeadlineCronFallsBackToLastRunAt verifies a malformed
// CronExpr falls back to LastRunAt rather than erroring the whole deadline
// computation.
func TestComputeDeadlineCronFallsBackToLastRunAt(t *testing.T) {
	last := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	sched := &model.Schedule{Type: model.ScheduleCron, CronExpr: "not a cron expr", DurationSec: 600, LastRunAt: &last}

	got := computeDeadline(sched, last.Add(time.Hour))
	want := last.Add(600 * time.Second)
	if !got.Equal(want) {
		t.Errorf("computeDeadline() = %v, want %v", got, want)
	}
}

// TestBuildJobUsesOverrides verifies a Schedule's room-code/display-name
// overrides win over the Meeting's defaults.
func TestBuildJobUsesOverrides(t *testing.T) {
	meeting := &model.Meeting{ID: "m1", Provider: model.ProviderJitsi, RoomCode: "default-room", DefaultParticipant: "Recorder Bot"}
	sched := &model.Schedule{ID: "s1", MeetingID: "m1", DurationSec: 900, RoomCodeOverride: "override-room"}

	job := buildJob(sched, meeting, sched.DurationSec, nil)

	if job.RoomCode != "override-room" {
		t.Errorf("RoomCode = %q, want override", job.RoomCode)
	}
	if job.ParticipantName != "Recorder Bot" {
		t.Errorf("ParticipantName = %q, want Meeting default (no override set)", job.ParticipantName)
	}
	if job.ScheduleID != "s1" {
		t.Errorf("ScheduleID = %q, want s1", job.ScheduleID)
	}
	if job.Status != model.StatusQueued {
		t.Errorf("Status = %q, want queued", job.Status)
	}
}

// TestQueueScheduleRunsImmediatelyWhenFree verifies QueueSchedule starts
// execution right away when the recording lock is free.
func TestQueueScheduleRunsImmediatelyWhenFree(t *testing.T) {
	store := memstore.New()
	meeting := &model.Meeting{ID: "m1", Provider: "not-a-real-provider", RoomCode: "room"}
	if err := store.CreateMeeting(context.Background(), meeting); err != nil {
		t.Fatalf("CreateMeeting() error = %v", err)
	}
	sched := &model.Schedule{ID: "s1", MeetingID: "m1", Type: model.ScheduleOnce, StartTime: time.Now().UTC(), DurationSec: 60, Enabled: true}
	if err := store.CreateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	r := New(Config{
		Worker:    worker.New(worker.Config{}),
		Schedules: store.Schedules(),
		Meetings:  store.Meetings(),
		Jobs:      store,
	})

	if ok := r.QueueSchedule("s1"); !ok {
		t.Fatal("QueueSchedule() = false, want true")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !r.IsBusy() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if r.IsBusy() {
		t.Fatal("runner still busy after unknown-provider job should have failed fast")
	}

	jobs, err := store.GetAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Status != model.StatusFailed {
		t.Errorf("job status = %q, want failed (unknown provider)", jobs[0].Status)
	}
	if jobs[0].ErrorCode != model.ErrInternal {
		t.Errorf("job error code = %q, want INTERNAL_ERROR", jobs[0].ErrorCode)
	}
}

// TestQueueScheduleQueuesWhenBusy verifies a second schedule id is appended
// to the FIFO wait queue rather than clobbering the in-flight run.
func TestQueueScheduleQueuesWhenBusy(t *testing.T) {
	r := New(Config{Worker: worker.New(worker.Config{})})

	r.mu.Lock()
	r.busy = true
	r.currentScheduleID = "running-1"
	r.mu.Unlock()

	r.QueueSchedule("waiting-1")
	r.QueueSchedule("waiting-2")

	if got := r.QueueLength(); got != 2 {
		t.Errorf("QueueLength() = %d, want 2", got)
	}
	if got := r.CurrentScheduleID(); got != "running-1" {
		t.Errorf("CurrentScheduleID() = %q, want running-1", got)
	}
}

// TestRunImmediateRefusesWhenBusy verifies RunImmediate returns "" rather
// than queueing.
func TestRunImmediateRefusesWhenBusy(t *testing.T) {
	r := New(Config{Worker: worker.New(worker.Config{}), Jobs: memstore.New()})

	r.mu.Lock()
	r.busy = true
	r.mu.Unlock()

	got := r.RunImmediate(&model.Job{Provider: model.ProviderJitsi})
	if got != "" {
		t.Errorf("RunImmediate() = %q, want empty (lock held)", got)
	}
}

// TestExecuteScheduleSkipsDisabledSchedule verifies a disabled schedule is
// skipped (and the lock released) without ever building a Job.
func TestExecuteScheduleSkipsDisabledSchedule(t *testing.T) {
	store := memstore.New()
	sched := &model.Schedule{ID: "s1", MeetingID: "m1", Type: model.ScheduleOnce, Enabled: false}
	if err := store.CreateSchedule(context.Background(), sched); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	r := New(Config{Worker: worker.New(worker.Config{}), Schedules: store.Schedules(), Meetings: store.Meetings(), Jobs: store})
	r.mu.Lock()
	r.busy = true
	r.mu.Unlock()

	r.executeSchedule("s1")

	if r.IsBusy() {
		t.Error("runner still busy after executeSchedule on a disabled schedule")
	}
	jobs, err := store.GetAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d jobs, want 0 (disabled schedule must not run)", len(jobs))
	}
}
