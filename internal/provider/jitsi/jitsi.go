// SPDX-License-Identifier: MIT

// Package jitsi implements provider.Provider for Jitsi Meet rooms.
package jitsi

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/provider"
)

func init() {
	provider.Register("jitsi", func() provider.Provider { return &Jitsi{} })
}

// Jitsi is a stateless adapter; nothing is retained between calls.
type Jitsi struct{}

func (j *Jitsi) Name() string { return "jitsi" }

// BuildJoinURL appends the Jitsi config fragment that starts the call with
// camera and microphone muted.
func (j *Jitsi) BuildJoinURL(roomCode, baseURL string) (string, error) {
	if roomCode == "" {
		return "", fmt.Errorf("jitsi: room code cannot be empty")
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://meet.jit.si"
	}
	u, err := url.Parse(base + "/" + roomCode)
	if err != nil {
		return "", fmt.Errorf("jitsi: invalid base URL %q: %w", baseURL, err)
	}
	u.Fragment = "config.startWithVideoMuted=true&config.startWithAudioMuted=true"
	return u.String(), nil
}

func (j *Jitsi) Prejoin(ctx context.Context, page *rod.Page, displayName, password string) error {
	page = page.Context(ctx)

	if el, err := page.Timeout(5 * time.Second).Element(`[data-testid="prejoin.displayNameInput"], input[name="displayName"]`); err == nil {
		_ = el.Input(displayName)
	}

	// Some deployments surface a cookie-consent banner before the prejoin form.
	if el, err := page.Timeout(2 * time.Second).Element(`[data-testid="cookie-consent.accept"]`); err == nil {
		_ = el.Click("left", 1)
	}

	if password != "" {
		if el, err := page.Timeout(2 * time.Second).Element(`input[name="lock-room-password"]`); err == nil {
			_ = el.Input(password)
		}
	}
	return nil
}

func (j *Jitsi) ClickJoin(ctx context.Context, page *rod.Page) error {
	page = page.Context(ctx)
	el, err := page.Timeout(10 * time.Second).Element(`[data-testid="prejoin.joinMeeting"], button[aria-label="Join meeting"]`)
	if err != nil {
		return fmt.Errorf("jitsi: join button not found: %w", err)
	}
	return el.Click("left", 1)
}

// inMeetingSelector matches the local/remote filmstrip or the in-call
// meeting-details toolbar.
const inMeetingSelector = `#filmstripLocalVideo, .filmstrip__videos, [data-testid="meeting-info-icon"]`

const errorSelector = `[data-testid="prejoin.errorMessage"], .dialog-container`

const lobbySelector = `[data-testid="lobby.screen"], .preMeeting.lobby-screen`

func (j *Jitsi) WaitUntilJoined(ctx context.Context, page *rod.Page, timeout time.Duration, password string) (provider.JoinResult, error) {
	page = page.Context(ctx)
	deadline := time.Now().Add(timeout)
	passwordTried := false

	for time.Now().Before(deadline) {
		if page.Timeout(300 * time.Millisecond).MustHas(inMeetingSelector) {
			return provider.JoinResult{Success: true}, nil
		}
		if page.Timeout(300 * time.Millisecond).MustHas(errorSelector) {
			return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinFailed, ErrorMessage: "jitsi reported an error dialog"}, nil
		}
		if password != "" && !passwordTried {
			if j.ApplyPassword(ctx, page, password) {
				passwordTried = true
			}
		}
		if page.Timeout(300 * time.Millisecond).MustHas(lobbySelector) {
			return provider.JoinResult{Success: false, InLobby: true}, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinTimeout, ErrorMessage: "timed out waiting to join"}, nil
}

func (j *Jitsi) WaitInLobby(ctx context.Context, page *rod.Page, maxWait time.Duration) bool {
	page = page.Context(ctx)
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if page.Timeout(300 * time.Millisecond).MustHas(inMeetingSelector) {
			return true
		}
		if page.Timeout(300*time.Millisecond).MustHas(`[data-testid="lobby.rejected"]`) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

func (j *Jitsi) SetLayout(ctx context.Context, page *rod.Page, preset string) {
	page = page.Context(ctx)
	defer func() { _ = recover() }() // best-effort, never fatal

	switch preset {
	case "speaker", "":
		if el, err := page.Timeout(2 * time.Second).Element(`[aria-label="Select view"]`); err == nil {
			_ = el.Click("left", 1)
		}
	}
}

func (j *Jitsi) DetectMeetingEnd(ctx context.Context, page *rod.Page) bool {
	page = page.Context(ctx)
	return !page.Timeout(time.Second).MustHas(inMeetingSelector)
}

func (j *Jitsi) ApplyPassword(ctx context.Context, page *rod.Page, password string) bool {
	page = page.Context(ctx)
	el, err := page.Timeout(1 * time.Second).Element(`input[name="lock-room-password"]`)
	if err != nil {
		return false
	}
	_ = el.Input(password)
	if submit, err := page.Element(`[data-testid="password.submit"]`); err == nil {
		_ = submit.Click("left", 1)
	}
	return true
}

func (j *Jitsi) CollectDiagnostics(ctx context.Context, page *rod.Page, dir string, errCode model.ErrorCode, errMsg string, console []provider.ConsoleMessage) (provider.DiagnosticData, error) {
	page = page.Context(ctx)
	data := provider.DiagnosticData{
		ProviderName: j.Name(),
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
		CollectedAt:  time.Now(),
	}
	if info, err := page.Info(); err == nil {
		data.URL = info.URL
		data.Title = info.Title
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return data, fmt.Errorf("jitsi: create diagnostics dir: %w", err)
	}

	// Each artifact write is independent; a failure here is logged by the
	// caller and does not abort the rest.
	if png, err := page.Screenshot(true, nil); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "screenshot.png"), png, 0640)
	}
	if html, err := page.HTML(); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "page.html"), []byte(html), 0640)
	}
	var sb strings.Builder
	for _, c := range console {
		fmt.Fprintf(&sb, "[%s] %s\n", c.Level, c.Text)
	}
	_ = os.WriteFile(filepath.Join(dir, "console.log"), []byte(sb.String()), 0640)

	return data, nil
}
