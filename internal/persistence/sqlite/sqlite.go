// SPDX-License-Identifier: MIT

// Package sqlite is a concrete, pure-Go persistence store for the
// JobRepository / ScheduleRepository / MeetingRepository /
// DetectionLogRepository ports, grounded on ManuGH-xg2g's
// internal/library/store.go: modernc.org/sqlite (no cgo), WAL journal mode,
// busy_timeout to avoid "database locked" errors, schema created with
// CREATE TABLE IF NOT EXISTS, and upserts via ON CONFLICT.
//
// This is a reference store exercising the persistence port; the core
// itself only ever depends on the port interfaces in internal/persistence.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

// Store is a SQLite-backed implementation of every persistence port.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// schema migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		provider TEXT NOT NULL,
		site_base_url TEXT NOT NULL,
		room_code TEXT NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		default_participant TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		type TEXT NOT NULL,
		start_time TEXT,
		cron_expr TEXT NOT NULL DEFAULT '',
		duration_sec INTEGER NOT NULL,
		duration_mode TEXT NOT NULL,
		auto_detect_mode TEXT NOT NULL DEFAULT '',
		min_duration_sec INTEGER NOT NULL DEFAULT 0,
		early_join_sec INTEGER NOT NULL DEFAULT 0,
		lobby_wait_sec INTEGER NOT NULL DEFAULT 0,
		resolution_w INTEGER NOT NULL DEFAULT 0,
		resolution_h INTEGER NOT NULL DEFAULT 0,
		layout_preset TEXT NOT NULL DEFAULT '',
		dry_run INTEGER NOT NULL DEFAULT 0,
		upload_enabled INTEGER NOT NULL DEFAULT 0,
		privacy_tag TEXT NOT NULL DEFAULT '',
		stillness_timeout INTEGER NOT NULL DEFAULT 0,
		room_code_override TEXT NOT NULL DEFAULT '',
		display_name_override TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at TEXT,
		next_run_at TEXT
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		site_base_url TEXT NOT NULL,
		room_code TEXT NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		participant_name TEXT NOT NULL DEFAULT '',
		duration_sec INTEGER NOT NULL,
		duration_mode TEXT NOT NULL,
		auto_detect_mode TEXT NOT NULL DEFAULT '',
		min_duration_sec INTEGER NOT NULL DEFAULT 0,
		lobby_wait_sec INTEGER NOT NULL DEFAULT 0,
		resolution_w INTEGER NOT NULL DEFAULT 0,
		resolution_h INTEGER NOT NULL DEFAULT 0,
		layout_preset TEXT NOT NULL DEFAULT '',
		dry_run INTEGER NOT NULL DEFAULT 0,
		stillness_timeout INTEGER NOT NULL DEFAULT 0,
		deadline_at TEXT,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		end_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		joined_at TEXT,
		recording_started_at TEXT,
		recording_stopped_at TEXT,
		completed_at TEXT,
		artifact_path TEXT NOT NULL DEFAULT '',
		artifact_size INTEGER NOT NULL DEFAULT 0,
		artifact_duration_sec REAL NOT NULL DEFAULT 0,
		diagnostics_dir TEXT NOT NULL DEFAULT '',
		has_screenshot INTEGER NOT NULL DEFAULT 0,
		has_html_dump INTEGER NOT NULL DEFAULT 0,
		has_console_log INTEGER NOT NULL DEFAULT 0,
		upload_enabled INTEGER NOT NULL DEFAULT 0,
		hosted_video_id TEXT NOT NULL DEFAULT '',
		youtube_uploaded_at TEXT,
		notification_message_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS detection_logs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		detector_type TEXT NOT NULL,
		detected INTEGER NOT NULL,
		confidence REAL NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		triggered_at TEXT NOT NULL,
		accuracy_label TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_detection_logs_job ON detection_logs(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func timeStr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Create inserts a new Job row.
func (s *Store) Create(ctx context.Context, j *model.Job) error {
	if j.ID == "" {
		j.ID = model.NewJobID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, schedule_id, provider, site_base_url, room_code, password, participant_name,
			duration_sec, duration_mode, auto_detect_mode, min_duration_sec, lobby_wait_sec,
			resolution_w, resolution_h, layout_preset, dry_run, stillness_timeout, deadline_at,
			status, error_code, error_message, end_reason, created_at, upload_enabled
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ScheduleID, j.Provider, j.SiteBaseURL, j.RoomCode, j.Password, j.ParticipantName,
		j.DurationSec, j.DurationMode, j.AutoDetectMode, j.MinDurationSec, j.LobbyWaitSec,
		j.Resolution.Width, j.Resolution.Height, j.LayoutPreset, boolInt(j.DryRun), j.StillnessTimeout, timeStr(j.DeadlineAt),
		j.Status, j.ErrorCode, j.ErrorMessage, j.EndReason, j.CreatedAt.UTC().Format(time.RFC3339Nano), boolInt(j.UploadEnabled),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, schedule_id, provider, site_base_url, room_code, password, participant_name,
	duration_sec, duration_mode, auto_detect_mode, min_duration_sec, lobby_wait_sec,
	resolution_w, resolution_h, layout_preset, dry_run, stillness_timeout, deadline_at,
	status, error_code, error_message, end_reason, created_at, started_at, joined_at,
	recording_started_at, recording_stopped_at, completed_at, artifact_path, artifact_size,
	artifact_duration_sec, diagnostics_dir, has_screenshot, has_html_dump, has_console_log,
	upload_enabled, hosted_video_id, youtube_uploaded_at, notification_message_id`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.Job, error) {
	var j model.Job
	var dryRun, hasSS, hasHTML, hasConsole, uploadEnabled int
	var deadlineAt, startedAt, joinedAt, recStarted, recStopped, completedAt, youtubeAt sql.NullString
	var artifactPath, diagDir string
	var artifactSize int64
	var artifactDur float64
	var createdAtStr string

	if err := row.Scan(
		&j.ID, &j.ScheduleID, &j.Provider, &j.SiteBaseURL, &j.RoomCode, &j.Password, &j.ParticipantName,
		&j.DurationSec, &j.DurationMode, &j.AutoDetectMode, &j.MinDurationSec, &j.LobbyWaitSec,
		&j.Resolution.Width, &j.Resolution.Height, &j.LayoutPreset, &dryRun, &j.StillnessTimeout, &deadlineAt,
		&j.Status, &j.ErrorCode, &j.ErrorMessage, &j.EndReason, &createdAtStr, &startedAt, &joinedAt,
		&recStarted, &recStopped, &completedAt, &artifactPath, &artifactSize,
		&artifactDur, &diagDir, &hasSS, &hasHTML, &hasConsole,
		&uploadEnabled, &j.HostedVideoID, &youtubeAt, &j.NotificationMessageID,
	); err != nil {
		return nil, err
	}

	j.DryRun = dryRun != 0
	j.UploadEnabled = uploadEnabled != 0
	j.DeadlineAt = parseTime(deadlineAt)
	j.StartedAt = parseTime(startedAt)
	j.JoinedAt = parseTime(joinedAt)
	j.RecordingStartedAt = parseTime(recStarted)
	j.RecordingStoppedAt = parseTime(recStopped)
	j.CompletedAt = parseTime(completedAt)
	j.YoutubeUploadedAt = parseTime(youtubeAt)
	j.DiagnosticsDir = diagDir
	j.Diagnostics = model.DiagnosticFlags{HasScreenshot: hasSS != 0, HasHTMLDump: hasHTML != 0, HasConsoleLog: hasConsole != 0}
	if ts, err := time.Parse(time.RFC3339Nano, createdAtStr); err == nil {
		j.CreatedAt = ts.UTC()
	}
	if artifactPath != "" {
		j.Recording = &model.RecordingInfo{
			ArtifactPath: artifactPath,
			SizeBytes:    artifactSize,
			DurationSec:  artifactDur,
		}
		if j.RecordingStartedAt != nil {
			j.Recording.StartTime = *j.RecordingStartedAt
		}
		if j.RecordingStoppedAt != nil {
			j.Recording.EndTime = *j.RecordingStoppedAt
		}
	}
	return &j, nil
}

// GetByJobID returns the Job with id, or (nil, nil) if it does not exist.
func (s *Store) GetByJobID(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get job %s: %w", id, err)
	}
	return j, nil
}

// GetAll returns jobs ordered by created_at descending, paginated.
func (s *Store) GetAll(ctx context.Context, limit, offset int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetByStatus returns all jobs currently in status.
func (s *Store) GetByStatus(ctx context.Context, status model.Status) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE status = ?", status)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateStatus atomically updates status and any non-nil fields. Like
// memstore, a transition out of a terminal status is refused rather than
// silently rewriting an immutable row; succeeded -> uploading -> succeeded
// is not a regression and stays legal.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status, f persistence.JobFields) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin update status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: read current status for job %s: %w", id, err)
	}
	if status != current && !model.CanTransition(current, status) {
		return false, fmt.Errorf("sqlite: job %q cannot transition %s -> %s", id, current, status)
	}

	sets := []string{"status = ?"}
	args := []interface{}{status}

	if f.ErrorCode != nil {
		sets = append(sets, "error_code = ?")
		args = append(args, *f.ErrorCode)
	}
	if f.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *f.ErrorMessage)
	}
	if f.EndReason != nil {
		sets = append(sets, "end_reason = ?")
		args = append(args, *f.EndReason)
	}
	if f.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, timeStr(f.StartedAt))
	}
	if f.JoinedAt != nil {
		sets = append(sets, "joined_at = ?")
		args = append(args, timeStr(f.JoinedAt))
	}
	if f.RecordingStartedAt != nil {
		sets = append(sets, "recording_started_at = ?")
		args = append(args, timeStr(f.RecordingStartedAt))
	}
	if f.RecordingStoppedAt != nil {
		sets = append(sets, "recording_stopped_at = ?")
		args = append(args, timeStr(f.RecordingStoppedAt))
	}
	if f.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, timeStr(f.CompletedAt))
	}
	if f.Recording != nil {
		sets = append(sets, "artifact_path = ?", "artifact_size = ?", "artifact_duration_sec = ?")
		args = append(args, f.Recording.ArtifactPath, f.Recording.SizeBytes, f.Recording.DurationSec)
	}
	if f.Diagnostics != nil {
		sets = append(sets, "has_screenshot = ?", "has_html_dump = ?", "has_console_log = ?")
		args = append(args, boolInt(f.Diagnostics.HasScreenshot), boolInt(f.Diagnostics.HasHTMLDump), boolInt(f.Diagnostics.HasConsoleLog))
	}
	if f.DiagnosticsDir != nil {
		sets = append(sets, "diagnostics_dir = ?")
		args = append(args, *f.DiagnosticsDir)
	}
	if f.HostedVideoID != nil {
		sets = append(sets, "hosted_video_id = ?")
		args = append(args, *f.HostedVideoID)
	}
	if f.YoutubeUploadedAt != nil {
		sets = append(sets, "youtube_uploaded_at = ?")
		args = append(args, timeStr(f.YoutubeUploadedAt))
	}
	if f.NotificationMessageID != nil {
		sets = append(sets, "notification_message_id = ?")
		args = append(args, *f.NotificationMessageID)
	}

	query := "UPDATE jobs SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit update status tx: %w", err)
	}
	return n > 0, nil
}

// Delete removes a Job row.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var _ persistence.JobRepository = (*Store)(nil)
