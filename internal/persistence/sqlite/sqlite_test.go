// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetByJobID(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{
		Status:    model.StatusQueued,
		Provider:  model.ProviderJitsi,
		CreatedAt: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("Create() left job.ID empty")
	}

	got, err := s.GetByJobID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByJobID() = nil, want a row")
	}
	if got.Status != model.StatusQueued {
		t.Errorf("Status = %s, want %s", got.Status, model.StatusQueued)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}
}

func TestGetByJobIDMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetByJobID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetByJobID() = %+v, want nil", got)
	}
}

func TestUpdateStatusPersistsPartialFields(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{Status: model.StatusFinalizing, CreatedAt: time.Now().UTC()}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	videoID := "abc123"
	ok, err := s.UpdateStatus(context.Background(), job.ID, model.StatusSucceeded, persistence.JobFields{
		HostedVideoID: &videoID,
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if !ok {
		t.Fatal("UpdateStatus() ok = false, want true")
	}

	got, _ := s.GetByJobID(context.Background(), job.ID)
	if got.Status != model.StatusSucceeded {
		t.Errorf("Status = %s, want %s", got.Status, model.StatusSucceeded)
	}
	if got.HostedVideoID != videoID {
		t.Errorf("HostedVideoID = %q, want %q", got.HostedVideoID, videoID)
	}
}

func TestUpdateStatusMissingRowReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.UpdateStatus(context.Background(), "missing", model.StatusStarting, persistence.JobFields{})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if ok {
		t.Fatal("UpdateStatus() on missing row: ok = true, want false")
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{Status: model.StatusQueued, CreatedAt: time.Now().UTC()}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := s.UpdateStatus(context.Background(), job.ID, model.StatusRecording, persistence.JobFields{}); err == nil {
		t.Fatal("UpdateStatus() queued->recording: want error, got nil")
	}

	got, _ := s.GetByJobID(context.Background(), job.ID)
	if got.Status != model.StatusQueued {
		t.Errorf("Status after rejected transition = %s, want unchanged %s", got.Status, model.StatusQueued)
	}
}

func TestUpdateStatusRejectsRewriteOfTerminalRow(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{Status: model.StatusFailed, CreatedAt: time.Now().UTC()}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := s.UpdateStatus(context.Background(), job.ID, model.StatusQueued, persistence.JobFields{}); err == nil {
		t.Fatal("UpdateStatus() failed->queued: want error, got nil")
	}
}

func TestUpdateStatusAllowsSucceededUploadingSucceeded(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{Status: model.StatusSucceeded, CreatedAt: time.Now().UTC()}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ok, err := s.UpdateStatus(context.Background(), job.ID, model.StatusUploading, persistence.JobFields{}); err != nil || !ok {
		t.Fatalf("UpdateStatus() succeeded->uploading: ok=%v, err=%v", ok, err)
	}
	if ok, err := s.UpdateStatus(context.Background(), job.ID, model.StatusSucceeded, persistence.JobFields{}); err != nil || !ok {
		t.Fatalf("UpdateStatus() uploading->succeeded: ok=%v, err=%v", ok, err)
	}
}

func TestGetAllOrdersByCreatedAtDescending(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		job := &model.Job{Status: model.StatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Create(context.Background(), job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, job.ID)
	}
	got, err := s.GetAll(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetAll() returned %d rows, want 3", len(got))
	}
	if got[0].ID != ids[2] || got[2].ID != ids[0] {
		t.Fatalf("GetAll() not ordered newest-first: got %v, want newest=%s oldest=%s", got, ids[2], ids[0])
	}
}

func TestGetByStatusFiltersExactly(t *testing.T) {
	s := openTestStore(t)
	_ = s.Create(context.Background(), &model.Job{Status: model.StatusQueued, CreatedAt: time.Now().UTC()})
	rec := &model.Job{Status: model.StatusRecording, CreatedAt: time.Now().UTC()}
	_ = s.Create(context.Background(), rec)

	got, err := s.GetByStatus(context.Background(), model.StatusRecording)
	if err != nil {
		t.Fatalf("GetByStatus() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("GetByStatus(recording) = %v, want [%s]", got, rec.ID)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	s := openTestStore(t)
	job := &model.Job{Status: model.StatusQueued, CreatedAt: time.Now().UTC()}
	_ = s.Create(context.Background(), job)

	ok, err := s.Delete(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("Delete(): ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(context.Background(), job.ID)
	if err != nil || ok {
		t.Fatalf("Delete() again: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestScheduleAdapterRoundTrips(t *testing.T) {
	s := openTestStore(t)
	meeting := &model.Meeting{ID: "m-1", Provider: model.ProviderZoom}
	if err := s.Meetings().Create(context.Background(), meeting); err != nil {
		t.Fatalf("Meetings().Create() error = %v", err)
	}

	repo := s.Schedules()
	sched := &model.Schedule{ID: "sched-1", MeetingID: meeting.ID, Type: model.ScheduleOnce, Enabled: true}
	if err := repo.Create(context.Background(), sched); err != nil {
		t.Fatalf("Schedules().Create() error = %v", err)
	}

	got, err := repo.Get(context.Background(), "sched-1")
	if err != nil || got == nil {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	enabled, err := repo.GetAllEnabled(context.Background())
	if err != nil || len(enabled) != 1 {
		t.Fatalf("GetAllEnabled() = %v, %v", enabled, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateRunTimes(context.Background(), "sched-1", &now, nil); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}
	got, _ = repo.Get(context.Background(), "sched-1")
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}

	sched.Enabled = false
	sched.LastRunAt = got.LastRunAt
	if err := repo.Update(context.Background(), sched); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	enabled, err = repo.GetAllEnabled(context.Background())
	if err != nil || len(enabled) != 0 {
		t.Fatalf("GetAllEnabled() after disable = %v, %v", enabled, err)
	}

	ok, err := repo.Delete(context.Background(), "sched-1")
	if err != nil || !ok {
		t.Fatalf("Delete(): ok=%v err=%v", ok, err)
	}
}

func TestMeetingAdapterRoundTrips(t *testing.T) {
	s := openTestStore(t)
	repo := s.Meetings()
	m := &model.Meeting{ID: "m-1", Provider: model.ProviderWebex, DisplayName: "Weekly Sync"}
	if err := repo.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	all, err := repo.GetAll(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAll() = %v, %v", all, err)
	}

	m.DisplayName = "Renamed Sync"
	if err := repo.Update(context.Background(), m); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := repo.Get(context.Background(), "m-1")
	if err != nil || got.DisplayName != "Renamed Sync" {
		t.Fatalf("Get() after Update() = %+v, %v", got, err)
	}

	ok, err := repo.Delete(context.Background(), "m-1")
	if err != nil || !ok {
		t.Fatalf("Delete(): ok=%v err=%v", ok, err)
	}
}

func TestDetectionLogAdapterScopesByJob(t *testing.T) {
	s := openTestStore(t)
	repo := s.DetectionLogs()

	log := &model.DetectionLog{JobID: "job-1", DetectorType: "audio_silence", TriggeredAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" {
		t.Fatal("Create() left log.ID empty")
	}
	other := &model.DetectionLog{JobID: "job-2", DetectorType: "screen_freeze", TriggeredAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), other); err != nil {
		t.Fatalf("second Create() error = %v", err)
	}

	got, err := repo.GetByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if len(got) != 1 || got[0].DetectorType != "audio_silence" {
		t.Fatalf("GetByJobID(job-1) = %v, want one audio_silence row", got)
	}
}
