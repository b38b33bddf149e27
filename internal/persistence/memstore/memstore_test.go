// SPDX-License-Identifier: MIT

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

func TestCreateAssignsID(t *testing.T) {
	s := New()
	job := &model.Job{Status: model.StatusQueued}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("Create() left job.ID empty")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := New()
	job := &model.Job{ID: "job-1", Status: model.StatusQueued}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if err := s.Create(context.Background(), &model.Job{ID: "job-1"}); err == nil {
		t.Fatal("second Create() with same id: want error, got nil")
	}
}

func TestGetByJobIDMissingReturnsNilNil(t *testing.T) {
	s := New()
	j, err := s.GetByJobID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if j != nil {
		t.Fatalf("GetByJobID() = %+v, want nil", j)
	}
}

func TestGetByJobIDReturnsCopy(t *testing.T) {
	s := New()
	job := &model.Job{ID: "job-1", Status: model.StatusQueued}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := s.GetByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	got.Status = model.StatusFailed
	again, err := s.GetByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("second GetByJobID() error = %v", err)
	}
	if again.Status != model.StatusQueued {
		t.Fatalf("mutating a returned Job leaked into the store: status = %s", again.Status)
	}
}

func TestUpdateStatusLegalTransition(t *testing.T) {
	s := New()
	job := &model.Job{ID: "job-1", Status: model.StatusQueued}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg := "container starting"
	ok, err := s.UpdateStatus(context.Background(), "job-1", model.StatusStarting, persistence.JobFields{ErrorMessage: &msg})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if !ok {
		t.Fatal("UpdateStatus() ok = false, want true")
	}
	got, _ := s.GetByJobID(context.Background(), "job-1")
	if got.Status != model.StatusStarting {
		t.Fatalf("Status = %s, want %s", got.Status, model.StatusStarting)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := New()
	job := &model.Job{ID: "job-1", Status: model.StatusQueued}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), "job-1", model.StatusRecording, persistence.JobFields{}); err == nil {
		t.Fatal("UpdateStatus() queued->recording: want error, got nil")
	}
}

func TestUpdateStatusAllowsSucceededUploadingSucceeded(t *testing.T) {
	s := New()
	job := &model.Job{ID: "job-1", Status: model.StatusSucceeded}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ok, err := s.UpdateStatus(context.Background(), "job-1", model.StatusUploading, persistence.JobFields{}); err != nil || !ok {
		t.Fatalf("succeeded->uploading: ok=%v err=%v", ok, err)
	}
	if ok, err := s.UpdateStatus(context.Background(), "job-1", model.StatusSucceeded, persistence.JobFields{}); err != nil || !ok {
		t.Fatalf("uploading->succeeded: ok=%v err=%v", ok, err)
	}
}

func TestUpdateStatusMissingRowReturnsFalseNil(t *testing.T) {
	s := New()
	ok, err := s.UpdateStatus(context.Background(), "missing", model.StatusStarting, persistence.JobFields{})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if ok {
		t.Fatal("UpdateStatus() on missing row: ok = true, want false")
	}
}

func TestGetAllOrderingAndPagination(t *testing.T) {
	s := New()
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Create(context.Background(), &model.Job{
			ID:        id,
			Status:    model.StatusQueued,
			CreatedAt: now.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	got, err := s.GetAll(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("GetAll(2,0) = %v, want [c b]", idsOf(got))
	}
	got, err = s.GetAll(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("GetAll(2,2) error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("GetAll(2,2) = %v, want [a]", idsOf(got))
	}
}

func TestGetByStatusFiltersExactly(t *testing.T) {
	s := New()
	_ = s.Create(context.Background(), &model.Job{ID: "a", Status: model.StatusQueued})
	_ = s.Create(context.Background(), &model.Job{ID: "b", Status: model.StatusRecording})
	got, err := s.GetByStatus(context.Background(), model.StatusRecording)
	if err != nil {
		t.Fatalf("GetByStatus() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("GetByStatus(recording) = %v, want [b]", idsOf(got))
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := New()
	_ = s.Create(context.Background(), &model.Job{ID: "a", Status: model.StatusQueued})
	ok, err := s.Delete(context.Background(), "a")
	if err != nil || !ok {
		t.Fatalf("Delete(a): ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(context.Background(), "a")
	if err != nil || ok {
		t.Fatalf("Delete(a) again: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestScheduleRepositoryViewRoundTrips(t *testing.T) {
	s := New()
	repo := s.Schedules()
	sched := &model.Schedule{ID: "sched-1", Enabled: true}
	if err := repo.Create(context.Background(), sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := repo.Get(context.Background(), "sched-1")
	if err != nil || got == nil {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
	enabled, err := repo.GetAllEnabled(context.Background())
	if err != nil || len(enabled) != 1 {
		t.Fatalf("GetAllEnabled() = %v, %v", enabled, err)
	}
	sched.Enabled = false
	if err := repo.Update(context.Background(), sched); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	enabled, err = repo.GetAllEnabled(context.Background())
	if err != nil || len(enabled) != 0 {
		t.Fatalf("GetAllEnabled() after disable = %v, %v", enabled, err)
	}
	now := time.Now().UTC()
	if err := repo.UpdateRunTimes(context.Background(), "sched-1", &now, nil); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}
	got, _ = repo.Get(context.Background(), "sched-1")
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}
	ok, err := repo.Delete(context.Background(), "sched-1")
	if err != nil || !ok {
		t.Fatalf("Delete(): ok=%v err=%v", ok, err)
	}
}

func TestMeetingRepositoryViewRoundTrips(t *testing.T) {
	s := New()
	repo := s.Meetings()
	m := &model.Meeting{ID: "m-1"}
	if err := repo.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	all, err := repo.GetAll(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAll() = %v, %v", all, err)
	}
	if err := repo.Update(context.Background(), m); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	ok, err := repo.Delete(context.Background(), "m-1")
	if err != nil || !ok {
		t.Fatalf("Delete(): ok=%v err=%v", ok, err)
	}
}

func TestDetectionLogRepositoryViewAssignsIDAndScopesByJob(t *testing.T) {
	s := New()
	repo := s.DetectionLogs()
	log := &model.DetectionLog{JobID: "job-1"}
	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" {
		t.Fatal("Create() left log.ID empty")
	}
	_ = repo.Create(context.Background(), &model.DetectionLog{JobID: "job-2"})

	got, err := repo.GetByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetByJobID(job-1) returned %d logs, want 1", len(got))
	}
}

func idsOf(jobs []*model.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
