// SPDX-License-Identifier: MIT

package detection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// rtcPatchScript is injected once per page load. It patches
// RTCPeerConnection so the worker can later poll a single boolean flag
// instead of re-wiring event listeners on every check.
const rtcPatchScript = `() => {
	if (window._rtcPatched) return;
	window._rtcPatched = true;
	window._rtcConnectionLost = false;
	const OrigRTC = window.RTCPeerConnection;
	if (!OrigRTC) return;
	window.RTCPeerConnection = function(...args) {
		const pc = new OrigRTC(...args);
		const lostStates = ['disconnected', 'failed', 'closed'];
		pc.addEventListener('connectionstatechange', () => {
			if (lostStates.includes(pc.connectionState)) window._rtcConnectionLost = true;
		});
		pc.addEventListener('iceconnectionstatechange', () => {
			if (lostStates.includes(pc.iceConnectionState)) window._rtcConnectionLost = true;
		});
		return pc;
	};
	window.RTCPeerConnection.prototype = OrigRTC.prototype;
}`

// WebRTCConnection is priority 1: it reads a flag an injected script sets
// when any tracked RTCPeerConnection loses connectivity.
type WebRTCConnection struct {
	enabled atomic.Bool
}

// NewWebRTCConnection returns an enabled WebRTCConnection detector.
func NewWebRTCConnection() *WebRTCConnection {
	d := &WebRTCConnection{}
	d.enabled.Store(true)
	return d
}

func (d *WebRTCConnection) Type() string  { return "webrtc_connection" }
func (d *WebRTCConnection) Priority() int { return 1 }
func (d *WebRTCConnection) Enabled() bool { return d.enabled.Load() }
func (d *WebRTCConnection) SetEnabled(v bool) { d.enabled.Store(v) }

// Setup injects the RTCPeerConnection patch script.
func (d *WebRTCConnection) Setup(ctx context.Context, page *rod.Page) error {
	_, err := page.Eval(rtcPatchScript)
	return err
}

// Check reads window._rtcConnectionLost.
func (d *WebRTCConnection) Check(ctx context.Context, page *rod.Page) (Result, error) {
	obj, err := page.Eval(`() => !!window._rtcConnectionLost`)
	if err != nil {
		return Result{}, err
	}
	lost := obj.Value.Bool()
	res := Result{Type: d.Type(), Detected: lost, Timestamp: time.Now()}
	if lost {
		res.Confidence = 0.9
		res.Reason = "RTCPeerConnection reported disconnected/failed/closed"
	}
	return res, nil
}

// Reset is a no-op: the injected flag lives in the page's JS context, which
// is torn down with the page itself between jobs.
func (d *WebRTCConnection) Reset() {}
