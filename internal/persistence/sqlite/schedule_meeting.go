// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

var (
	_ persistence.ScheduleRepository     = (*adapterSchedule)(nil)
	_ persistence.MeetingRepository      = (*adapterMeeting)(nil)
	_ persistence.DetectionLogRepository = (*adapterDetectionLog)(nil)
)

// adapterSchedule, adapterMeeting, adapterDetectionLog give each port
// interface its shared method names (Create/Get/Update/Delete) over the
// Schedule/Meeting/DetectionLog-suffixed methods below, the same names
// Store already uses for JobRepository. Call sites depend on the narrow
// persistence.ScheduleRepository / persistence.MeetingRepository /
// persistence.DetectionLogRepository ports rather than on *Store directly.
type adapterSchedule struct{ s *Store }
type adapterMeeting struct{ s *Store }
type adapterDetectionLog struct{ s *Store }

// Schedules returns a persistence.ScheduleRepository view of the Store.
func (s *Store) Schedules() persistence.ScheduleRepository { return adapterSchedule{s} }

// Meetings returns a persistence.MeetingRepository view of the Store.
func (s *Store) Meetings() persistence.MeetingRepository { return adapterMeeting{s} }

// DetectionLogs returns a persistence.DetectionLogRepository view of the Store.
func (s *Store) DetectionLogs() persistence.DetectionLogRepository { return adapterDetectionLog{s} }

func (a adapterSchedule) Create(ctx context.Context, sc *model.Schedule) error {
	return a.s.CreateSchedule(ctx, sc)
}
func (a adapterSchedule) Get(ctx context.Context, id string) (*model.Schedule, error) {
	return a.s.GetSchedule(ctx, id)
}
func (a adapterSchedule) GetAllEnabled(ctx context.Context) ([]*model.Schedule, error) {
	return a.s.GetAllEnabledSchedules(ctx)
}
func (a adapterSchedule) Update(ctx context.Context, sc *model.Schedule) error {
	return a.s.UpdateSchedule(ctx, sc)
}
func (a adapterSchedule) Delete(ctx context.Context, id string) (bool, error) {
	return a.s.DeleteSchedule(ctx, id)
}
func (a adapterSchedule) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	return a.s.UpdateRunTimes(ctx, id, lastRunAt, nextRunAt)
}

func (a adapterMeeting) Create(ctx context.Context, m *model.Meeting) error {
	return a.s.CreateMeeting(ctx, m)
}
func (a adapterMeeting) Get(ctx context.Context, id string) (*model.Meeting, error) {
	return a.s.GetMeeting(ctx, id)
}
func (a adapterMeeting) GetAll(ctx context.Context) ([]*model.Meeting, error) {
	return a.s.GetAllMeetings(ctx)
}
func (a adapterMeeting) Update(ctx context.Context, m *model.Meeting) error {
	return a.s.UpdateMeeting(ctx, m)
}
func (a adapterMeeting) Delete(ctx context.Context, id string) (bool, error) {
	return a.s.DeleteMeeting(ctx, id)
}

func (a adapterDetectionLog) Create(ctx context.Context, log *model.DetectionLog) error {
	return a.s.CreateDetectionLog(ctx, log)
}
func (a adapterDetectionLog) GetByJobID(ctx context.Context, jobID string) ([]*model.DetectionLog, error) {
	return a.s.GetDetectionLogsByJobID(ctx, jobID)
}

// CreateMeeting inserts a new Meeting row.
func (s *Store) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, display_name, provider, site_base_url, room_code, password, default_participant)
		VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.DisplayName, m.Provider, m.SiteBaseURL, m.RoomCode, m.Password, m.DefaultParticipant,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert meeting: %w", err)
	}
	return nil
}

func scanMeeting(row interface{ Scan(...interface{}) error }) (*model.Meeting, error) {
	var m model.Meeting
	if err := row.Scan(&m.ID, &m.DisplayName, &m.Provider, &m.SiteBaseURL, &m.RoomCode, &m.Password, &m.DefaultParticipant); err != nil {
		return nil, err
	}
	return &m, nil
}

const meetingColumns = "id, display_name, provider, site_base_url, room_code, password, default_participant"

// GetMeeting returns the Meeting with id, or (nil, nil) if absent.
func (s *Store) GetMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+meetingColumns+" FROM meetings WHERE id = ?", id)
	m, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get meeting %s: %w", id, err)
	}
	return m, nil
}

// GetAllMeetings returns every Meeting row, ordered by id.
func (s *Store) GetAllMeetings(ctx context.Context) ([]*model.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+meetingColumns+" FROM meetings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list meetings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMeeting overwrites a Meeting row.
func (s *Store) UpdateMeeting(ctx context.Context, m *model.Meeting) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings SET display_name=?, provider=?, site_base_url=?, room_code=?, password=?, default_participant=?
		WHERE id = ?`,
		m.DisplayName, m.Provider, m.SiteBaseURL, m.RoomCode, m.Password, m.DefaultParticipant, m.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update meeting %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("sqlite: meeting %s not found", m.ID)
	}
	return err
}

// DeleteMeeting removes a Meeting row.
func (s *Store) DeleteMeeting(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM meetings WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete meeting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const scheduleColumns = `
	id, meeting_id, type, start_time, cron_expr, duration_sec, duration_mode, auto_detect_mode,
	min_duration_sec, early_join_sec, lobby_wait_sec, resolution_w, resolution_h, layout_preset,
	dry_run, upload_enabled, privacy_tag, stillness_timeout, room_code_override,
	display_name_override, enabled, last_run_at, next_run_at`

// CreateSchedule inserts a new Schedule row.
func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sc.ID, sc.MeetingID, sc.Type, timeStr(&sc.StartTime), sc.CronExpr, sc.DurationSec, sc.DurationMode, sc.AutoDetectMode,
		sc.MinDurationSec, sc.EarlyJoinSec, sc.LobbyWaitSec, sc.Resolution.Width, sc.Resolution.Height, sc.LayoutPreset,
		boolInt(sc.DryRun), boolInt(sc.UploadEnabled), sc.PrivacyTag, sc.StillnessTimeout, sc.RoomCodeOverride,
		sc.DisplayNameOverride, boolInt(sc.Enabled), timeStr(sc.LastRunAt), timeStr(sc.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert schedule: %w", err)
	}
	return nil
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*model.Schedule, error) {
	var sc model.Schedule
	var dryRun, uploadEnabled, enabled int
	var startTime, lastRunAt, nextRunAt sql.NullString

	if err := row.Scan(
		&sc.ID, &sc.MeetingID, &sc.Type, &startTime, &sc.CronExpr, &sc.DurationSec, &sc.DurationMode, &sc.AutoDetectMode,
		&sc.MinDurationSec, &sc.EarlyJoinSec, &sc.LobbyWaitSec, &sc.Resolution.Width, &sc.Resolution.Height, &sc.LayoutPreset,
		&dryRun, &uploadEnabled, &sc.PrivacyTag, &sc.StillnessTimeout, &sc.RoomCodeOverride,
		&sc.DisplayNameOverride, &enabled, &lastRunAt, &nextRunAt,
	); err != nil {
		return nil, err
	}
	sc.DryRun = dryRun != 0
	sc.UploadEnabled = uploadEnabled != 0
	sc.Enabled = enabled != 0
	if t := parseTime(startTime); t != nil {
		sc.StartTime = *t
	}
	sc.LastRunAt = parseTime(lastRunAt)
	sc.NextRunAt = parseTime(nextRunAt)
	return &sc, nil
}

// GetSchedule returns the Schedule with id, or (nil, nil) if absent.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get schedule %s: %w", id, err)
	}
	return sc, nil
}

// GetAllEnabledSchedules returns every enabled Schedule row.
func (s *Store) GetAllEnabledSchedules(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list enabled schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateSchedule overwrites a Schedule row.
func (s *Store) UpdateSchedule(ctx context.Context, sc *model.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET meeting_id=?, type=?, start_time=?, cron_expr=?, duration_sec=?, duration_mode=?,
			auto_detect_mode=?, min_duration_sec=?, early_join_sec=?, lobby_wait_sec=?, resolution_w=?, resolution_h=?,
			layout_preset=?, dry_run=?, upload_enabled=?, privacy_tag=?, stillness_timeout=?, room_code_override=?,
			display_name_override=?, enabled=?, last_run_at=?, next_run_at=?
		WHERE id = ?`,
		sc.MeetingID, sc.Type, timeStr(&sc.StartTime), sc.CronExpr, sc.DurationSec, sc.DurationMode,
		sc.AutoDetectMode, sc.MinDurationSec, sc.EarlyJoinSec, sc.LobbyWaitSec, sc.Resolution.Width, sc.Resolution.Height,
		sc.LayoutPreset, boolInt(sc.DryRun), boolInt(sc.UploadEnabled), sc.PrivacyTag, sc.StillnessTimeout, sc.RoomCodeOverride,
		sc.DisplayNameOverride, boolInt(sc.Enabled), timeStr(sc.LastRunAt), timeStr(sc.NextRunAt), sc.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update schedule %s: %w", sc.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("sqlite: schedule %s not found", sc.ID)
	}
	return err
}

// DeleteSchedule removes a Schedule row.
func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete schedule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateRunTimes persists last_run_at / next_run_at, the only fields the
// Scheduler is allowed to write on a Schedule row.
func (s *Store) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE schedules SET last_run_at=?, next_run_at=? WHERE id = ?",
		timeStr(lastRunAt), timeStr(nextRunAt), id)
	if err != nil {
		return fmt.Errorf("sqlite: update schedule run times %s: %w", id, err)
	}
	return nil
}

// CreateDetectionLog inserts one probe result row.
func (s *Store) CreateDetectionLog(ctx context.Context, log *model.DetectionLog) error {
	if log.ID == "" {
		log.ID = model.NewJobID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_logs (id, job_id, detector_type, detected, confidence, reason, triggered_at, accuracy_label)
		VALUES (?,?,?,?,?,?,?,?)`,
		log.ID, log.JobID, log.DetectorType, boolInt(log.Detected), log.Confidence, log.Reason,
		log.TriggeredAt.UTC().Format(time.RFC3339Nano), log.AccuracyLabel,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert detection log: %w", err)
	}
	return nil
}

// GetDetectionLogsByJobID returns every probe result logged for a Job.
func (s *Store) GetDetectionLogsByJobID(ctx context.Context, jobID string) ([]*model.DetectionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, detector_type, detected, confidence, reason, triggered_at, accuracy_label
		FROM detection_logs WHERE job_id = ? ORDER BY triggered_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list detection logs for %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.DetectionLog
	for rows.Next() {
		var l model.DetectionLog
		var detected int
		var triggeredAt string
		if err := rows.Scan(&l.ID, &l.JobID, &l.DetectorType, &detected, &l.Confidence, &l.Reason, &triggeredAt, &l.AccuracyLabel); err != nil {
			return nil, err
		}
		l.Detected = detected != 0
		if t, err := time.Parse(time.RFC3339Nano, triggeredAt); err == nil {
			l.TriggeredAt = t.UTC()
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
