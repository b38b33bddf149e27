// SPDX-License-Identifier: MIT

// Package worker implements the recording worker: the single-instance-
// per-process orchestrator that composes a capture environment, drives a
// provider through its join state machine, runs the muxer, evaluates the
// detection ensemble, and guarantees cleanup of every external resource on
// every exit path.
//
// Status transitions of the Job status state machine are reported through
// a synchronous StatusFunc callback.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/browser"
	"github.com/eyeduck-ai/meeting-recorder/internal/captureenv"
	"github.com/eyeduck-ai/meeting-recorder/internal/config"
	"github.com/eyeduck-ai/meeting-recorder/internal/detection"
	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/muxer"
	"github.com/eyeduck-ai/meeting-recorder/internal/persistence"
	"github.com/eyeduck-ai/meeting-recorder/internal/provider"
	"github.com/eyeduck-ai/meeting-recorder/internal/util"
)

// StatusFunc is invoked on every status transition. It must never panic
// into the worker; Worker recovers and logs instead.
type StatusFunc func(jobID string, status model.Status)

// Config controls how Worker provisions per-job resources.
type Config struct {
	CaptureEnv   captureenv.Config
	RecordingsDir string
	DiagnosticsDir string
	FFmpegPath   string
	CheckInterval time.Duration // main loop poll interval, ~5s
	JoinTimeout   time.Duration // default 60s: timeout waiting to join before failing the job
	Logger       *slog.Logger

	// DetectionLogs receives every positive detection probe result, if set.
	// A nil value is valid: detections just go unlogged (used by tests).
	DetectionLogs persistence.DetectionLogRepository

	// Detection enables/disables and tunes the meeting-end detector
	// ensemble. The zero value enables no detectors; New defaults it to
	// config.DefaultConfig().Detection so callers that never set it still
	// run the default always-on ensemble.
	Detection config.DetectionConfig
}

// RecordingResult carries a completed recording's final status, artifact
// info, diagnostics, phase timestamps, and error code/message.
type RecordingResult struct {
	Status       model.Status
	EndReason    model.EndReason
	ErrorCode    model.ErrorCode
	ErrorMessage string

	Recording   *model.RecordingInfo
	Diagnostics *provider.DiagnosticData

	JoinedAt           *time.Time
	RecordingStartedAt *time.Time
	RecordingStoppedAt *time.Time
}

// Worker is the single per-process recording orchestrator. It is safe to
// call Record only from one goroutine at a time; the job runner's
// recording lock enforces that single-flight property.
type Worker struct {
	cfg Config

	mu           sync.Mutex
	busy         bool
	currentJobID string
	status       model.Status
	statusFn     StatusFunc

	cancelRequested atomic.Bool
	finishRequested atomic.Bool
}

// New returns an idle Worker.
func New(cfg Config) *Worker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 60 * time.Second
	}
	if cfg.Detection.Detectors == nil {
		cfg.Detection = config.DefaultConfig().Detection
	}
	return &Worker{cfg: cfg}
}

// IsBusy reports whether a job is currently being recorded.
func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// CurrentStatus returns the in-flight job's current status, or "" if idle.
func (w *Worker) CurrentStatus() model.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SetStatusCallback registers fn to be invoked on every status transition.
func (w *Worker) SetStatusCallback(fn StatusFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statusFn = fn
}

// RequestCancel sets the cancel flag, observed at the next suspension
// point. Returns false if no job is currently running.
func (w *Worker) RequestCancel() bool {
	if !w.IsBusy() {
		return false
	}
	w.cancelRequested.Store(true)
	return true
}

// RequestFinish sets the finish-early flag, observed at the next
// suspension point. Returns false if no job is currently running.
func (w *Worker) RequestFinish() bool {
	if !w.IsBusy() {
		return false
	}
	w.finishRequested.Store(true)
	return true
}

func (w *Worker) setStatus(jobID string, status model.Status) {
	w.mu.Lock()
	w.status = status
	fn := w.statusFn
	w.mu.Unlock()

	if fn == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil && w.cfg.Logger != nil {
				w.cfg.Logger.Error("worker: status callback panicked", "job", jobID, "status", status, "panic", r)
			}
		}()
		fn(jobID, status)
	}()
}

func (w *Worker) logf(level slog.Level, jobID, msg string, args ...any) {
	if w.cfg.Logger == nil {
		return
	}
	args = append([]any{"job", jobID}, args...)
	w.cfg.Logger.Log(context.Background(), level, msg, args...)
}

// controlSignal names the operator request (cancel or finish-early)
// observed at a suspension point; it is never returned as a Go error from
// Record, which must never let an error escape to its caller.
type controlSignal int

const (
	signalNone controlSignal = iota
	signalCancel
	signalFinish
)

// Record runs the full thirteen-step recording sequence for job and
// returns a RecordingResult. It never returns an error and never panics out
// to the caller: every failure is captured in the result's
// status/error_code/error_message.
func (w *Worker) Record(ctx context.Context, job *model.Job) RecordingResult {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return RecordingResult{Status: model.StatusFailed, ErrorCode: model.ErrInternal, ErrorMessage: "worker: already busy"}
	}
	w.busy = true
	w.currentJobID = job.ID
	w.mu.Unlock()

	w.cancelRequested.Store(false)
	w.finishRequested.Store(false)

	defer func() {
		w.mu.Lock()
		w.busy = false
		w.currentJobID = ""
		w.status = ""
		w.mu.Unlock()
	}()

	r := &run{w: w, job: job, ctx: ctx}
	var result RecordingResult
	if err := util.RecoverToError(func() error {
		result = r.execute()
		return nil
	}); err != nil {
		w.logf(slog.LevelError, job.ID, "recording sequence panicked", "err", err)
		result = RecordingResult{
			Status:       model.StatusFailed,
			EndReason:    model.EndReasonFailed,
			ErrorCode:    model.ErrInternal,
			ErrorMessage: err.Error(),
		}
	}
	return result
}

// run carries the per-invocation state threaded through the sequence steps
// and the single deferred cleanup chain.
type run struct {
	w   *Worker
	job *model.Job
	ctx context.Context

	env    *captureenv.Environment
	br     *browser.Browser
	mx     *muxer.Muxer
	prov   provider.Provider
	orch   *detection.Orchestrator

	// Phase timestamps accumulate as steps complete; fail/onControl copy
	// them onto their returned RecordingResult so a failure after the join
	// phase still reports when the job actually joined.
	joinedAt           *time.Time
	recordingStartedAt *time.Time
	recordingStoppedAt *time.Time
}

// snapshot copies the phase timestamps accumulated so far onto result.
func (r *run) snapshot(result *RecordingResult) {
	result.JoinedAt = r.joinedAt
	result.RecordingStartedAt = r.recordingStartedAt
	result.RecordingStoppedAt = r.recordingStoppedAt
}

func (r *run) setStatus(s model.Status) { r.w.setStatus(r.job.ID, s) }

func (r *run) checkControl() controlSignal {
	if r.w.cancelRequested.Load() {
		return signalCancel
	}
	if r.w.finishRequested.Load() {
		return signalFinish
	}
	return signalNone
}

func (r *run) execute() (result RecordingResult) {
	defer r.cleanup()

	// Step 1: resolve provider.
	prov, err := provider.Get(string(r.job.Provider))
	if err != nil {
		return r.fail(model.ErrInternal, err.Error())
	}
	r.prov = prov

	// Step 2: start capture environment.
	r.setStatus(model.StatusStarting)
	env, err := captureenv.Acquire(r.ctx, r.w.cfg.CaptureEnv)
	if err != nil {
		return r.fail(model.ErrVirtualEnvError, err.Error())
	}
	r.env = env

	if sig := r.checkControl(); sig != signalNone {
		return r.onControl(sig)
	}

	// Step 3: launch browser.
	br, err := browser.Launch(browser.Config{
		Env:          env.Env(),
		Headless:     false,
		WindowWidth:  r.job.Resolution.Width,
		WindowHeight: r.job.Resolution.Height,
	})
	if err != nil {
		return r.fail(model.ErrBrowserCrashed, err.Error())
	}
	r.br = br

	// Step 4: navigate.
	r.setStatus(model.StatusJoining)
	joinURL, err := prov.BuildJoinURL(r.job.RoomCode, r.job.SiteBaseURL)
	if err != nil {
		return r.fail(model.ErrInvalidURL, err.Error())
	}
	if err := br.Navigate(r.ctx, joinURL); err != nil {
		return r.fail(model.ErrJoinFailed, err.Error())
	}

	if sig := r.checkControl(); sig != signalNone {
		return r.onControl(sig)
	}

	// Step 5: prejoin + click join.
	if err := prov.Prejoin(r.ctx, br.Page(), r.job.ParticipantName, r.job.Password); err != nil {
		return r.fail(model.ErrJoinFailed, err.Error())
	}
	if err := prov.ClickJoin(r.ctx, br.Page()); err != nil {
		return r.fail(model.ErrJoinFailed, err.Error())
	}

	// Step 6: wait until joined.
	joinRes, err := prov.WaitUntilJoined(r.ctx, br.Page(), r.w.cfg.JoinTimeout, r.job.Password)
	if err != nil {
		return r.fail(model.ErrJoinTimeout, err.Error())
	}
	if joinRes.InLobby {
		r.setStatus(model.StatusWaitingLobby)
		admitted := prov.WaitInLobby(r.ctx, br.Page(), time.Duration(r.job.LobbyWaitSec)*time.Second)
		if !admitted {
			return r.fail(model.ErrLobbyTimeout, "not admitted from lobby within lobby_wait_sec")
		}
	} else if !joinRes.Success {
		code := joinRes.ErrorCode
		if code == "" {
			code = model.ErrJoinFailed
		}
		return r.fail(code, joinRes.ErrorMessage)
	}

	if sig := r.checkControl(); sig != signalNone {
		return r.onControl(sig)
	}

	// Step 7: record joined_at, best-effort layout.
	joinedAt := time.Now().UTC()
	r.joinedAt = &joinedAt
	result.JoinedAt = &joinedAt
	prov.SetLayout(r.ctx, br.Page(), r.job.LayoutPreset)

	// Step 8: adjust duration for fixed-duration deadline-bound jobs.
	durationSec := r.job.DurationSec
	if r.job.DurationMode == model.DurationModeFixed && r.job.DeadlineAt != nil {
		remaining := time.Until(*r.job.DeadlineAt)
		if remaining <= 0 {
			return r.fail(model.ErrJoinTimeout, "meeting-end deadline already passed")
		}
		durationSec = int(remaining.Seconds())
	}

	// Step 9: abort gracefully before muxer starts if finish already requested.
	if r.w.finishRequested.Load() {
		result.Status = model.StatusSucceeded
		result.EndReason = model.EndReasonCompleted
		return result
	}

	// Step 10: start muxer.
	r.setStatus(model.StatusRecording)
	outputPath := artifactPath(r.w.cfg.RecordingsDir, r.job.ID)
	mx, err := muxer.New(muxer.Config{
		Display:     env.Display,
		PulseSource: env.SinkName + ".monitor",
		OutputPath:  outputPath,
		Width:       r.job.Resolution.Width,
		Height:      r.job.Resolution.Height,
		FFmpegPath:  r.w.cfg.FFmpegPath,
		LogDir:      r.w.cfg.DiagnosticsDir,
		JobID:       r.job.ID,
		Logger:      r.w.cfg.Logger,
	})
	if err != nil {
		return r.fail(model.ErrRecordingStartFail, err.Error())
	}
	r.mx = mx
	if err := mx.Start(r.ctx); err != nil {
		return r.fail(model.ErrRecordingStartFail, err.Error())
	}
	recStartedAt := time.Now().UTC()
	r.recordingStartedAt = &recStartedAt
	result.RecordingStartedAt = &recStartedAt

	// Step 11: main loop.
	det := r.w.cfg.Detection
	r.orch = detection.New(det.MinDetectorsAgree, r.w.cfg.DetectionLogs)
	r.orch.SetJobID(r.job.ID)
	r.orch.SetDryRun(r.job.DryRun)
	if det.Detector(config.DetectorWebRTCConnection).Enabled {
		r.orch.Add(detection.NewWebRTCConnection())
	}
	if det.Detector(config.DetectorTextIndicator).Enabled {
		r.orch.Add(detection.NewTextIndicator())
	}
	if det.Detector(config.DetectorVideoElement).Enabled {
		r.orch.Add(detection.NewVideoElement(5 * time.Second))
	}
	if det.Detector(config.DetectorURLChange).Enabled {
		r.orch.Add(detection.NewURLChange(joinURL))
	}
	if sf := det.Detector(config.DetectorScreenFreeze); sf.Enabled {
		freezeTimeout := sf.Timeout
		if r.job.StillnessTimeout > 0 {
			freezeTimeout = time.Duration(r.job.StillnessTimeout) * time.Second
		}
		r.orch.Add(detection.NewScreenFreeze(sf.Threshold, freezeTimeout))
	}
	if as := det.Detector(config.DetectorAudioSilence); as.Enabled {
		r.orch.Add(detection.NewAudioSilence(env.SinkName+".monitor", as.Threshold, as.Timeout))
	}
	_ = r.orch.Setup(r.ctx, br.Page())

	effectiveMin := r.job.EffectiveMinDuration()
	endReason, signal, failCode, failMsg := r.mainLoop(durationSec, effectiveMin)

	// Step 12: finalize.
	r.setStatus(model.StatusFinalizing)
	mx.Stop()
	muxRes, waitErr := mx.Wait()

	recStoppedAt := time.Now().UTC()
	r.recordingStoppedAt = &recStoppedAt
	result.RecordingStoppedAt = &recStoppedAt

	if signal == signalCancel {
		result.Status = model.StatusCanceled
		result.ErrorCode = model.ErrCanceled
		result.ErrorMessage = "canceled by operator"
		result.EndReason = model.EndReasonCanceled
		result.Recording = recordingInfo(muxRes)
		r.collectDiagnostics(&result)
		return result
	}

	if failCode != "" {
		result.Status = model.StatusFailed
		result.ErrorCode = failCode
		result.ErrorMessage = failMsg
		result.EndReason = model.EndReasonFailed
		result.Recording = recordingInfo(muxRes)
		r.collectDiagnostics(&result)
		return result
	}

	if waitErr != nil && !muxRes.Stalled {
		// A clean Stop() can still surface a nonzero ffmpeg exit in some
		// environments (e.g. SIGTERM rung reached); treat it as a soft
		// success since the main loop already decided to end the run.
		r.w.logf(slog.LevelWarn, r.job.ID, "muxer exited with non-nil error after graceful stop", "err", waitErr)
	}

	// Step 13: success.
	result.Status = model.StatusSucceeded
	result.EndReason = endReason
	result.Recording = recordingInfo(muxRes)
	return result
}

// mainLoop implements the recording's suspension-point loop.
func (r *run) mainLoop(durationSec, effectiveMinSec int) (endReason model.EndReason, signal controlSignal, failCode model.ErrorCode, failMsg string) {
	ticker := time.NewTicker(r.w.cfg.CheckInterval)
	defer ticker.Stop()

	start := time.Now()
	maxDuration := time.Duration(durationSec) * time.Second
	minDuration := time.Duration(effectiveMinSec) * time.Second

	for {
		select {
		case <-r.ctx.Done():
			return "", signalCancel, model.ErrInternal, r.ctx.Err().Error()
		case <-ticker.C:
		}

		if r.w.finishRequested.Load() {
			return model.EndReasonCompleted, signalNone, "", ""
		}

		select {
		case <-r.mx.Exited():
			return "", signalNone, model.ErrFFmpegError, "ffmpeg process exited unexpectedly"
		default:
		}

		select {
		case <-r.mx.Stalled():
			return "", signalNone, model.ErrFFmpegError, "ffmpeg output stalled"
		default:
		}

		elapsed := time.Since(start)
		if elapsed >= maxDuration {
			return model.EndReasonCompleted, signalNone, "", ""
		}

		if r.w.cancelRequested.Load() {
			return "", signalCancel, "", ""
		}

		if elapsed >= minDuration {
			ended := r.runDetection()
			if ended {
				return model.EndReasonAutoDetected, signalNone, "", ""
			}
		}
	}
}

// runDetection dispatches to the detection orchestrator in auto mode, or
// the provider's legacy single-signal probe in fixed mode.
func (r *run) runDetection() bool {
	if r.job.DurationMode == model.DurationModeAuto {
		_, shouldEnd := r.orch.CheckAll(r.ctx, r.br.Page())
		return shouldEnd
	}
	return r.prov.DetectMeetingEnd(r.ctx, r.br.Page())
}

func (r *run) fail(code model.ErrorCode, msg string) RecordingResult {
	result := RecordingResult{Status: model.StatusFailed, ErrorCode: code, ErrorMessage: msg, EndReason: model.EndReasonFailed}
	r.snapshot(&result)
	r.collectDiagnostics(&result)
	return result
}

func (r *run) onControl(sig controlSignal) RecordingResult {
	if sig == signalFinish {
		result := RecordingResult{Status: model.StatusSucceeded, EndReason: model.EndReasonCompleted}
		r.snapshot(&result)
		return result
	}
	result := RecordingResult{Status: model.StatusCanceled, ErrorCode: model.ErrCanceled, ErrorMessage: "canceled by operator", EndReason: model.EndReasonCanceled}
	r.snapshot(&result)
	r.collectDiagnostics(&result)
	return result
}

// collectDiagnostics asks the provider adapter to write the job's
// diagnostic bundle (screenshot.png, page.html, console.log, metadata.json)
// under DiagnosticsDir/<job id>. Tolerates a nil browser/page/provider
// (e.g. a capture-environment failure before the browser ever launched).
func (r *run) collectDiagnostics(result *RecordingResult) {
	if r.br == nil || r.prov == nil || r.w.cfg.DiagnosticsDir == "" {
		return
	}
	dir := filepath.Join(r.w.cfg.DiagnosticsDir, r.job.ID)

	var console []provider.ConsoleMessage
	for _, c := range r.br.ConsoleLog() {
		console = append(console, provider.ConsoleMessage{Level: c.Level, Text: c.Text})
	}

	data, err := r.prov.CollectDiagnostics(r.ctx, r.br.Page(), dir, result.ErrorCode, result.ErrorMessage, console)
	if err != nil {
		r.w.logf(slog.LevelWarn, r.job.ID, "diagnostics: collect failed", "err", err)
		return
	}
	result.Diagnostics = &data

	if b, err := json.MarshalIndent(data, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "metadata.json"), b, 0640); err != nil {
			r.w.logf(slog.LevelWarn, r.job.ID, "diagnostics: write metadata.json failed", "err", err)
		}
	}
}

// cleanup runs the guaranteed-teardown chain in fixed order (muxer,
// browser, captureenv); every step's error is logged and swallowed, none
// may propagate.
func (r *run) cleanup() {
	if r.mx != nil {
		r.mx.Stop()
	}
	if r.br != nil {
		if err := r.br.Close(); err != nil {
			r.w.logf(slog.LevelWarn, r.job.ID, "cleanup: browser close failed", "err", err)
		}
	}
	if r.env != nil {
		if err := r.env.Release(); err != nil {
			r.w.logf(slog.LevelWarn, r.job.ID, "cleanup: captureenv release failed", "err", err)
		}
	}
}

func artifactPath(recordingsDir, jobID string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	return filepath.Join(recordingsDir, fmt.Sprintf("%s_%s", ts, jobID), "recording_"+jobID+".mp4")
}

func recordingInfo(res muxer.Result) *model.RecordingInfo {
	return &model.RecordingInfo{
		ArtifactPath: res.OutputPath,
		SizeBytes:    res.SizeBytes,
		DurationSec:  res.DurationSec,
		StartTime:    res.StartedAt,
		EndTime:      res.StoppedAt,
	}
}
