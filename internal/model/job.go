// SPDX-License-Identifier: MIT

// Package model holds the data types shared across the recording pipeline:
// Meeting, Schedule, Job, DetectionLog, the Job status state machine, and the
// error taxonomy of the worker.
//
// These types are deliberately storage-agnostic: they carry no database tags
// beyond what internal/persistence needs for its own concrete stores. The
// core only depends on the JobRepository/ScheduleRepository/MeetingRepository
// interfaces in internal/persistence.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Provider identifies a meeting platform.
type Provider string

const (
	ProviderJitsi Provider = "jitsi"
	ProviderWebex Provider = "webex"
	ProviderZoom  Provider = "zoom"
)

// Status is a Job's position in the recording state machine.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusStarting     Status = "starting"
	StatusJoining      Status = "joining"
	StatusWaitingLobby Status = "waiting_lobby"
	StatusRecording    Status = "recording"
	StatusFinalizing   Status = "finalizing"
	StatusUploading    Status = "uploading"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// Terminal reports whether s is one of the three terminal statuses.
// Terminal statuses are never rewritten once set.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed (from, to) edges of the status
// machine. "canceled" may preempt any non-terminal state and is checked
// separately in CanTransition rather than listed from every row.
var transitions = map[Status]map[Status]bool{
	StatusQueued:       {StatusStarting: true},
	StatusStarting:     {StatusJoining: true},
	StatusJoining:      {StatusWaitingLobby: true, StatusRecording: true, StatusFailed: true},
	StatusWaitingLobby: {StatusRecording: true, StatusFailed: true, StatusCanceled: true},
	StatusRecording:    {StatusFinalizing: true, StatusFailed: true, StatusCanceled: true},
	StatusFinalizing:   {StatusSucceeded: true, StatusFailed: true},
	StatusSucceeded:    {StatusUploading: true},
	StatusUploading:    {StatusSucceeded: true},
}

// CanTransition reports whether moving a Job from "from" to "to" is legal.
//
// Terminal statuses (succeeded, failed, canceled) never leave their edge set
// except succeeded -> uploading -> succeeded, which is not a status
// regression: it models the upload fan-out running after the recording
// already succeeded.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	// Cancel may preempt any non-terminal state at a suspension point.
	if to == StatusCanceled && !from.Terminal() {
		return true
	}
	// A retryable failure rearms a non-terminal Job back to queued so the
	// next attempt's starting transition has a legal edge to resume from.
	if to == StatusQueued && !from.Terminal() {
		return true
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// EndReason is set on a terminal Job describing how recording concluded.
type EndReason string

const (
	EndReasonCompleted    EndReason = "completed"
	EndReasonAutoDetected EndReason = "auto_detected"
	EndReasonCanceled     EndReason = "canceled"
	EndReasonFailed       EndReason = "failed"
	EndReasonTimeout      EndReason = "timeout"
)

// ErrorCode is the stable error taxonomy attached to a failed Job.
type ErrorCode string

const (
	ErrJoinTimeout        ErrorCode = "JOIN_TIMEOUT"
	ErrJoinFailed         ErrorCode = "JOIN_FAILED"
	ErrInvalidURL         ErrorCode = "INVALID_URL"
	ErrMeetingNotFound    ErrorCode = "MEETING_NOT_FOUND"
	ErrPasswordRequired   ErrorCode = "PASSWORD_REQUIRED"
	ErrPasswordIncorrect  ErrorCode = "PASSWORD_INCORRECT"
	ErrLobbyTimeout       ErrorCode = "LOBBY_TIMEOUT"
	ErrLobbyRejected      ErrorCode = "LOBBY_REJECTED"
	ErrRecordingStartFail ErrorCode = "RECORDING_START_FAILED"
	ErrRecordingInterrupt ErrorCode = "RECORDING_INTERRUPTED"
	ErrFFmpegError        ErrorCode = "FFMPEG_ERROR"
	ErrMeetingEnded       ErrorCode = "MEETING_ENDED"
	ErrKickedFromMeeting  ErrorCode = "KICKED_FROM_MEETING"
	ErrConnectionLost     ErrorCode = "CONNECTION_LOST"
	ErrBrowserCrashed     ErrorCode = "BROWSER_CRASHED"
	ErrVirtualEnvError    ErrorCode = "VIRTUAL_ENV_ERROR"
	ErrDiskFull           ErrorCode = "DISK_FULL"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCanceled           ErrorCode = "CANCELED"
)

// JobError is the terminal error carried on a Job. It wraps an underlying
// cause while giving the job a stable, user-visible Code.
type JobError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *JobError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *JobError) Unwrap() error { return e.Cause }

// NewJobError builds a JobError, defaulting to INTERNAL_ERROR when code is empty.
func NewJobError(code ErrorCode, message string, cause error) *JobError {
	if code == "" {
		code = ErrInternal
	}
	return &JobError{Code: code, Message: message, Cause: cause}
}

// DurationMode selects how a Schedule's recording window ends.
type DurationMode string

const (
	DurationModeFixed DurationMode = "fixed"
	DurationModeAuto  DurationMode = "auto"
)

// AutoDetectMode controls when auto-detection starts honoring end signals.
type AutoDetectMode string

const (
	AutoDetectImmediate AutoDetectMode = "immediate"
	AutoDetectAfterMin  AutoDetectMode = "after_min"
)

// ScheduleType distinguishes a one-shot fire from a recurring cron fire.
type ScheduleType string

const (
	ScheduleOnce ScheduleType = "once"
	ScheduleCron ScheduleType = "cron"
)

// Meeting is static configuration for a joinable room.
type Meeting struct {
	ID                 string
	DisplayName        string
	Provider           Provider
	SiteBaseURL        string
	RoomCode           string
	Password           string
	DefaultParticipant string
}

// Resolution is a capture width/height pair.
type Resolution struct {
	Width  int
	Height int
}

// Schedule is a firing rule attached to a Meeting.
type Schedule struct {
	ID         string
	MeetingID  string
	Type       ScheduleType
	StartTime  time.Time // for Type == once
	CronExpr   string    // for Type == cron, POSIX weekday convention

	DurationSec      int
	DurationMode     DurationMode
	AutoDetectMode   AutoDetectMode
	MinDurationSec   int
	EarlyJoinSec     int
	LobbyWaitSec     int
	Resolution       Resolution
	LayoutPreset     string
	DryRun           bool
	UploadEnabled    bool
	PrivacyTag       string
	StillnessTimeout int // seconds, screen_freeze detector timeout

	// Overrides of the Meeting's join fields; empty means "use Meeting's value".
	RoomCodeOverride     string
	DisplayNameOverride  string

	Enabled   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
}

// EffectiveRoomCode returns the Schedule's override or falls back to the Meeting's.
func (s *Schedule) EffectiveRoomCode(m *Meeting) string {
	if s.RoomCodeOverride != "" {
		return s.RoomCodeOverride
	}
	return m.RoomCode
}

// EffectiveDisplayName returns the Schedule's override or falls back to the Meeting's.
func (s *Schedule) EffectiveDisplayName(m *Meeting) string {
	if s.DisplayNameOverride != "" {
		return s.DisplayNameOverride
	}
	return m.DefaultParticipant
}

// RecordingInfo describes the produced artifact.
type RecordingInfo struct {
	ArtifactPath string
	SizeBytes    int64
	DurationSec  float64
	StartTime    time.Time
	EndTime      time.Time
}

// DiagnosticFlags records which diagnostic artifacts were captured.
type DiagnosticFlags struct {
	HasScreenshot bool
	HasHTMLDump   bool
	HasConsoleLog bool
}

// Job is one execution of a recording.
type Job struct {
	ID         string
	ScheduleID string // optional

	// Snapshot of Meeting fields needed to join, taken at job creation so
	// later Meeting edits do not retroactively change a running job.
	Provider           Provider
	SiteBaseURL        string
	RoomCode           string
	Password           string
	ParticipantName    string

	DurationSec      int
	DurationMode     DurationMode
	AutoDetectMode   AutoDetectMode
	MinDurationSec   int
	LobbyWaitSec     int
	Resolution       Resolution
	LayoutPreset     string
	DryRun           bool
	StillnessTimeout int

	DeadlineAt *time.Time // meeting-end deadline for retry bounding

	Status       Status
	ErrorCode    ErrorCode
	ErrorMessage string
	EndReason    EndReason

	CreatedAt          time.Time
	StartedAt          *time.Time
	JoinedAt           *time.Time
	RecordingStartedAt *time.Time
	RecordingStoppedAt *time.Time
	CompletedAt        *time.Time

	Recording *RecordingInfo

	DiagnosticsDir string
	Diagnostics    DiagnosticFlags

	UploadEnabled    bool
	HostedVideoID    string
	YoutubeUploadedAt *time.Time

	NotificationMessageID string // opaque id returned by notifier.Started, for in-place updates
}

// EffectiveMinDuration returns min(job.MinDurationSec or job.DurationSec, job.DurationSec),
// the effective minimum duration a schedule enforces before auto-detection
// is allowed to end a recording.
func (j *Job) EffectiveMinDuration() int {
	min := j.MinDurationSec
	if min <= 0 {
		min = j.DurationSec
	}
	if min > j.DurationSec {
		min = j.DurationSec
	}
	return min
}

// DetectionLog is one probe result.
type DetectionLog struct {
	ID            string
	JobID         string
	DetectorType  string
	Detected      bool
	Confidence    float64
	Reason        string
	TriggeredAt   time.Time
	AccuracyLabel string // optional, filled in later by manual review
}

// NewJobID returns an 8-hex-character opaque job id.
func NewJobID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// time-derived id rather than panicking, so callers always get a
		// syntactically valid 8-hex-char id.
		return fmt.Sprintf("%08x", time.Now().UnixNano())[:8]
	}
	return hex.EncodeToString(b[:])
}
