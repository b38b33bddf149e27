// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"encoding/binary"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// AudioSilence is priority 6: samples the job's Pulse monitor source with
// a short parec capture and flags prolonged near-silence. Disabled by
// default, since it requires the audio-server query and is the noisiest
// (pun intended) of the six probes.
type AudioSilence struct {
	enabled       atomic.Bool
	monitorSource string
	threshold     float64 // normalized RMS amplitude in [0,1] below which audio counts as silent
	silenceTimeout time.Duration
	sampleDur     time.Duration
	parecPath     string

	mu           sync.Mutex
	silentSince  time.Time
}

// NewAudioSilence returns a disabled-by-default AudioSilence detector
// sampling monitorSource.
func NewAudioSilence(monitorSource string, threshold float64, silenceTimeout time.Duration) *AudioSilence {
	if threshold <= 0 {
		threshold = 0.02
	}
	if silenceTimeout <= 0 {
		silenceTimeout = 30 * time.Second
	}
	d := &AudioSilence{
		monitorSource:  monitorSource,
		threshold:      threshold,
		silenceTimeout: silenceTimeout,
		sampleDur:      300 * time.Millisecond,
		parecPath:      "parec",
	}
	// Disabled by default: requires the audio-server query.
	d.enabled.Store(false)
	return d
}

func (d *AudioSilence) Type() string     { return "audio_silence" }
func (d *AudioSilence) Priority() int     { return 6 }
func (d *AudioSilence) Enabled() bool     { return d.enabled.Load() }
func (d *AudioSilence) SetEnabled(v bool) { d.enabled.Store(v) }
func (d *AudioSilence) Setup(context.Context, *rod.Page) error { return nil }

// Reset clears the accumulated silent-since timestamp.
func (d *AudioSilence) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silentSince = time.Time{}
}

// Check captures a short raw-PCM sample from the monitor source via parec
// and computes its normalized RMS amplitude.
func (d *AudioSilence) Check(ctx context.Context, page *rod.Page) (Result, error) {
	now := time.Now()
	rms, err := d.sampleRMS(ctx)
	if err != nil {
		// The audio stack being unavailable is not a job failure; just
		// report no detection this round.
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if rms >= d.threshold {
		d.silentSince = time.Time{}
		return Result{Type: d.Type(), Timestamp: now}, nil
	}
	if d.silentSince.IsZero() {
		d.silentSince = now
		return Result{Type: d.Type(), Timestamp: now}, nil
	}

	elapsed := now.Sub(d.silentSince)
	if elapsed >= d.silenceTimeout {
		return Result{
			Type:       d.Type(),
			Detected:   true,
			Confidence: 1 - rms/d.threshold,
			Reason:     "audio level below threshold for " + elapsed.Round(time.Second).String(),
			Timestamp:  now,
		}, nil
	}
	return Result{Type: d.Type(), Timestamp: now}, nil
}

// sampleRMS runs parec for sampleDur against monitorSource and returns the
// normalized RMS amplitude of the captured 16-bit mono samples.
func (d *AudioSilence) sampleRMS(ctx context.Context) (float64, error) {
	sampleCtx, cancel := context.WithTimeout(ctx, d.sampleDur+2*time.Second)
	defer cancel()

	// #nosec G204 - monitorSource and parecPath come from validated job config, not user input
	cmd := exec.CommandContext(sampleCtx, d.parecPath,
		"--device="+d.monitorSource,
		"--raw", "--format=s16le", "--rate=16000", "--channels=1")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	buf := make([]byte, 2*16000/3) // ~1/3 second of 16kHz mono s16le
	n, _ := readFull(out, buf)

	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	if n < 2 {
		return 0, nil
	}

	var sumSquares float64
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
		f := float64(v) / 32768.0
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares / float64(samples)), nil
}

// readFull reads until buf is full, r returns io.EOF/err, or no more data
// arrives; unlike io.ReadFull it tolerates a short final read instead of
// erroring, since the parec process is killed mid-stream by design.
func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
