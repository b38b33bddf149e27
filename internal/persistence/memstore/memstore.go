// SPDX-License-Identifier: MIT

// Package memstore is an in-process implementation of the persistence
// port (internal/persistence), backed by plain maps guarded by a mutex.
// It is the store the worker/jobrunner/scheduler test suites exercise
// directly, and is suitable as the only store for a single-process
// deployment that does not need the data to survive process exit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

// Store implements JobRepository, ScheduleRepository, MeetingRepository,
// and DetectionLogRepository over in-memory maps.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*model.Job
	schedules map[string]*model.Schedule
	meetings  map[string]*model.Meeting
	detects   map[string][]*model.DetectionLog
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*model.Job),
		schedules: make(map[string]*model.Schedule),
		meetings:  make(map[string]*model.Meeting),
		detects:   make(map[string][]*model.DetectionLog),
	}
}

func clone(j *model.Job) *model.Job {
	cp := *j
	return &cp
}

// Create inserts job, assigning an id if unset.
func (s *Store) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = model.NewJobID()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("memstore: job %q already exists", job.ID)
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

// GetByJobID returns a copy of the Job, or nil if not found.
func (s *Store) GetByJobID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return clone(j), nil
}

// GetAll returns jobs ordered by CreatedAt descending, paginated.
func (s *Store) GetAll(ctx context.Context, limit, offset int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })

	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*model.Job, len(all))
	for i, j := range all {
		out[i] = clone(j)
	}
	return out, nil
}

// GetByStatus returns all jobs currently in status.
func (s *Store) GetByStatus(ctx context.Context, status model.Status) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, clone(j))
		}
	}
	return out, nil
}

// UpdateStatus atomically rewrites a Job's status and any non-nil fields.
// Terminal statuses are never rewritten once set.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status, f persistence.JobFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	// succeeded -> uploading -> succeeded is not a status regression; any
	// other transition out of a terminal status is a rewrite of an
	// immutable row and is refused.
	if status != j.Status && !model.CanTransition(j.Status, status) {
		return false, fmt.Errorf("memstore: job %q cannot transition %s -> %s", id, j.Status, status)
	}

	j.Status = status
	if f.ErrorCode != nil {
		j.ErrorCode = *f.ErrorCode
	}
	if f.ErrorMessage != nil {
		j.ErrorMessage = *f.ErrorMessage
	}
	if f.EndReason != nil {
		j.EndReason = *f.EndReason
	}
	if f.StartedAt != nil {
		j.StartedAt = f.StartedAt
	}
	if f.JoinedAt != nil {
		j.JoinedAt = f.JoinedAt
	}
	if f.RecordingStartedAt != nil {
		j.RecordingStartedAt = f.RecordingStartedAt
	}
	if f.RecordingStoppedAt != nil {
		j.RecordingStoppedAt = f.RecordingStoppedAt
	}
	if f.CompletedAt != nil {
		j.CompletedAt = f.CompletedAt
	}
	if f.Recording != nil {
		j.Recording = f.Recording
	}
	if f.Diagnostics != nil {
		j.Diagnostics = *f.Diagnostics
	}
	if f.DiagnosticsDir != nil {
		j.DiagnosticsDir = *f.DiagnosticsDir
	}
	if f.HostedVideoID != nil {
		j.HostedVideoID = *f.HostedVideoID
	}
	if f.YoutubeUploadedAt != nil {
		j.YoutubeUploadedAt = f.YoutubeUploadedAt
	}
	if f.NotificationMessageID != nil {
		j.NotificationMessageID = *f.NotificationMessageID
	}
	return true, nil
}

// Delete removes a Job row, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

// --- ScheduleRepository ---

func cloneSchedule(sc *model.Schedule) *model.Schedule {
	cp := *sc
	return &cp
}

func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		return fmt.Errorf("memstore: schedule id cannot be empty")
	}
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return cloneSchedule(sc), nil
}

func (s *Store) GetAllEnabledSchedules(ctx context.Context) ([]*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Schedule
	for _, sc := range s.schedules {
		if sc.Enabled {
			out = append(out, cloneSchedule(sc))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc *model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sc.ID]; !ok {
		return fmt.Errorf("memstore: schedule %q not found", sc.ID)
	}
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false, nil
	}
	delete(s.schedules, id)
	return true, nil
}

func (s *Store) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("memstore: schedule %q not found", id)
	}
	if lastRunAt != nil {
		t := lastRunAt.UTC()
		sc.LastRunAt = &t
	}
	if nextRunAt != nil {
		t := nextRunAt.UTC()
		sc.NextRunAt = &t
	}
	return nil
}

// --- MeetingRepository ---

func cloneMeeting(m *model.Meeting) *model.Meeting {
	cp := *m
	return &cp
}

func (s *Store) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		return fmt.Errorf("memstore: meeting id cannot be empty")
	}
	s.meetings[m.ID] = cloneMeeting(m)
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (*model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, nil
	}
	return cloneMeeting(m), nil
}

func (s *Store) GetAllMeetings(ctx context.Context) ([]*model.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		out = append(out, cloneMeeting(m))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, m *model.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; !ok {
		return fmt.Errorf("memstore: meeting %q not found", m.ID)
	}
	s.meetings[m.ID] = cloneMeeting(m)
	return nil
}

func (s *Store) DeleteMeeting(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[id]; !ok {
		return false, nil
	}
	delete(s.meetings, id)
	return true, nil
}

// --- DetectionLogRepository ---

func (s *Store) CreateDetectionLog(ctx context.Context, log *model.DetectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = model.NewJobID()
	}
	cp := *log
	s.detects[log.JobID] = append(s.detects[log.JobID], &cp)
	return nil
}

func (s *Store) GetDetectionLogsByJobID(ctx context.Context, jobID string) ([]*model.DetectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.detects[jobID]
	out := make([]*model.DetectionLog, len(logs))
	for i, l := range logs {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

var (
	_ persistence.JobRepository          = (*Store)(nil)
	_ persistence.DetectionLogRepository = (*adapterDetectionLog)(nil)
	_ persistence.ScheduleRepository     = (*adapterSchedule)(nil)
	_ persistence.MeetingRepository      = (*adapterMeeting)(nil)
)

// adapterSchedule, adapterMeeting, adapterDetectionLog exist only to
// satisfy Go's inability to have one struct with both "Create" (Job) and
// "Create" (Schedule) with different signatures via a shared method name;
// Store's real methods above are already uniquely named
// (CreateSchedule/CreateMeeting/CreateDetectionLog), so these thin wrappers
// give each port interface its exact shared-signature method names
// (Create/Get/...), letting call sites depend on the narrow
// persistence.ScheduleRepository / persistence.MeetingRepository /
// persistence.DetectionLogRepository ports without depending on *Store
// directly.
type adapterSchedule struct{ s *Store }
type adapterMeeting struct{ s *Store }
type adapterDetectionLog struct{ s *Store }

// Schedules returns a persistence.ScheduleRepository view of the Store.
func (s *Store) Schedules() persistence.ScheduleRepository { return adapterSchedule{s} }

// Meetings returns a persistence.MeetingRepository view of the Store.
func (s *Store) Meetings() persistence.MeetingRepository { return adapterMeeting{s} }

// DetectionLogs returns a persistence.DetectionLogRepository view of the Store.
func (s *Store) DetectionLogs() persistence.DetectionLogRepository { return adapterDetectionLog{s} }

func (a adapterSchedule) Create(ctx context.Context, sc *model.Schedule) error { return a.s.CreateSchedule(ctx, sc) }
func (a adapterSchedule) Get(ctx context.Context, id string) (*model.Schedule, error) {
	return a.s.GetSchedule(ctx, id)
}
func (a adapterSchedule) GetAllEnabled(ctx context.Context) ([]*model.Schedule, error) {
	return a.s.GetAllEnabledSchedules(ctx)
}
func (a adapterSchedule) Update(ctx context.Context, sc *model.Schedule) error { return a.s.UpdateSchedule(ctx, sc) }
func (a adapterSchedule) Delete(ctx context.Context, id string) (bool, error)  { return a.s.DeleteSchedule(ctx, id) }
func (a adapterSchedule) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	return a.s.UpdateRunTimes(ctx, id, lastRunAt, nextRunAt)
}

func (a adapterMeeting) Create(ctx context.Context, m *model.Meeting) error { return a.s.CreateMeeting(ctx, m) }
func (a adapterMeeting) Get(ctx context.Context, id string) (*model.Meeting, error) {
	return a.s.GetMeeting(ctx, id)
}
func (a adapterMeeting) GetAll(ctx context.Context) ([]*model.Meeting, error) { return a.s.GetAllMeetings(ctx) }
func (a adapterMeeting) Update(ctx context.Context, m *model.Meeting) error   { return a.s.UpdateMeeting(ctx, m) }
func (a adapterMeeting) Delete(ctx context.Context, id string) (bool, error)  { return a.s.DeleteMeeting(ctx, id) }

func (a adapterDetectionLog) Create(ctx context.Context, log *model.DetectionLog) error {
	return a.s.CreateDetectionLog(ctx, log)
}
func (a adapterDetectionLog) GetByJobID(ctx context.Context, jobID string) ([]*model.DetectionLog, error) {
	return a.s.GetDetectionLogsByJobID(ctx, jobID)
}
