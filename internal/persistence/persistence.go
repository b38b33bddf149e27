// SPDX-License-Identifier: MIT

// Package persistence defines the storage-agnostic ports the core depends
// on: JobRepository, ScheduleRepository, MeetingRepository, and
// DetectionLogRepository. The core never imports a concrete store directly;
// internal/persistence/memstore and internal/persistence/sqlite are the two
// implementations shipped alongside these interfaces.
package persistence

import (
	"context"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// JobRepository is the port the worker, job runner, and orphan sweep use to
// persist and query Job rows. Every method runs inside its own session
// scope: implementations must not leak transactions across calls.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	GetByJobID(ctx context.Context, id string) (*model.Job, error)
	GetAll(ctx context.Context, limit, offset int) ([]*model.Job, error)
	GetByStatus(ctx context.Context, status model.Status) ([]*model.Job, error)

	// UpdateStatus is an atomic, partial update. A row not found returns
	// (false, nil) -- never an error.
	UpdateStatus(ctx context.Context, id string, status model.Status, fields JobFields) (bool, error)

	Delete(ctx context.Context, id string) (bool, error)
}

// JobFields carries the optional fields UpdateStatus may set alongside a
// status transition. Zero-value / nil fields are left untouched, giving
// callers a kwargs-like partial update without resorting to a generic map.
type JobFields struct {
	ErrorCode    *model.ErrorCode
	ErrorMessage *string
	EndReason    *model.EndReason

	StartedAt          *time.Time
	JoinedAt           *time.Time
	RecordingStartedAt *time.Time
	RecordingStoppedAt *time.Time
	CompletedAt        *time.Time

	Recording   *model.RecordingInfo
	Diagnostics *model.DiagnosticFlags

	DiagnosticsDir        *string
	HostedVideoID         *string
	YoutubeUploadedAt     *time.Time
	NotificationMessageID *string
}

// ScheduleRepository is the port the scheduler and job runner use to read
// and persist Schedule rows, including the next/last fire bookkeeping the
// scheduler owns exclusively.
type ScheduleRepository interface {
	Create(ctx context.Context, sched *model.Schedule) error
	Get(ctx context.Context, id string) (*model.Schedule, error)
	GetAllEnabled(ctx context.Context) ([]*model.Schedule, error)
	Update(ctx context.Context, sched *model.Schedule) error
	Delete(ctx context.Context, id string) (bool, error)

	// UpdateRunTimes persists last_run_at / next_run_at, both UTC, the only
	// two fields the Scheduler is allowed to write on a Schedule row.
	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
}

// MeetingRepository is the port for the immutable Meeting configuration rows.
type MeetingRepository interface {
	Create(ctx context.Context, m *model.Meeting) error
	Get(ctx context.Context, id string) (*model.Meeting, error)
	GetAll(ctx context.Context) ([]*model.Meeting, error)
	Update(ctx context.Context, m *model.Meeting) error
	Delete(ctx context.Context, id string) (bool, error)
}

// DetectionLogRepository is the port the detection orchestrator writes
// every positive (and, in some configurations, negative) probe result to.
type DetectionLogRepository interface {
	Create(ctx context.Context, log *model.DetectionLog) error
	GetByJobID(ctx context.Context, jobID string) ([]*model.DetectionLog, error)
}
