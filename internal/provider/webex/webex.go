// SPDX-License-Identifier: MIT

// Package webex implements provider.Provider for Webex meetings, whose web
// client renders its UI inside a named iframe rather than the top document.
package webex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
	"github.com/eyeduck-ai/meeting-recorder/internal/provider"
)

func init() {
	provider.Register("webex", func() provider.Provider { return &Webex{} })
}

// meetingFrameSelector is the iframe Webex's web client renders into; all
// interactions are routed through its content document.
const meetingFrameSelector = `iframe[name="webexFrame"], iframe#meetingIframe`

type Webex struct{}

func (w *Webex) Name() string { return "webex" }

func (w *Webex) BuildJoinURL(roomCode, baseURL string) (string, error) {
	if roomCode == "" {
		return "", fmt.Errorf("webex: room code cannot be empty")
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return "", fmt.Errorf("webex: base URL is required")
	}
	return fmt.Sprintf("%s/meet/%s", base, roomCode), nil
}

// frame returns the meeting iframe's content page, falling back to the top
// page if the iframe has not appeared yet (pre-join chrome is top-level).
func (w *Webex) frame(page *rod.Page) *rod.Page {
	el, err := page.Timeout(2 * time.Second).Element(meetingFrameSelector)
	if err != nil {
		return page
	}
	f, err := el.Frame()
	if err != nil {
		return page
	}
	return f
}

func (w *Webex) Prejoin(ctx context.Context, page *rod.Page, displayName, password string) error {
	page = page.Context(ctx)
	target := w.frame(page)

	if el, err := target.Timeout(5 * time.Second).Element(`input[name="guestName"], input[data-testid="name-input"]`); err == nil {
		_ = el.Input(displayName)
	}
	if password != "" {
		if el, err := target.Timeout(2 * time.Second).Element(`input[type="password"]`); err == nil {
			_ = el.Input(password)
		}
	}
	return nil
}

func (w *Webex) ClickJoin(ctx context.Context, page *rod.Page) error {
	page = page.Context(ctx)
	target := w.frame(page)
	el, err := target.Timeout(10 * time.Second).Element(`button[data-testid="join-btn"], button[aria-label="Join meeting"]`)
	if err != nil {
		return fmt.Errorf("webex: join button not found: %w", err)
	}
	return el.Click("left", 1)
}

const webexInMeetingSelector = `[data-testid="roster-button"], .meeting-control-bar`
const webexErrorSelector = `[data-testid="error-panel"], .error-message`
const webexLobbySelector = `[data-testid="lobby-waiting"], .lobby-waiting-room`

func (w *Webex) WaitUntilJoined(ctx context.Context, page *rod.Page, timeout time.Duration, password string) (provider.JoinResult, error) {
	page = page.Context(ctx)
	deadline := time.Now().Add(timeout)
	passwordTried := false

	for time.Now().Before(deadline) {
		target := w.frame(page)
		if target.Timeout(300 * time.Millisecond).MustHas(webexInMeetingSelector) {
			return provider.JoinResult{Success: true}, nil
		}
		if target.Timeout(300 * time.Millisecond).MustHas(webexErrorSelector) {
			return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinFailed, ErrorMessage: "webex reported an error panel"}, nil
		}
		if password != "" && !passwordTried {
			if w.ApplyPassword(ctx, page, password) {
				passwordTried = true
			}
		}
		if target.Timeout(300 * time.Millisecond).MustHas(webexLobbySelector) {
			return provider.JoinResult{Success: false, InLobby: true}, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinTimeout, ErrorMessage: "timed out waiting to join"}, nil
}

func (w *Webex) WaitInLobby(ctx context.Context, page *rod.Page, maxWait time.Duration) bool {
	page = page.Context(ctx)
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		target := w.frame(page)
		if target.Timeout(300 * time.Millisecond).MustHas(webexInMeetingSelector) {
			return true
		}
		if target.Timeout(300*time.Millisecond).MustHas(`[data-testid="lobby-denied"]`) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

func (w *Webex) SetLayout(ctx context.Context, page *rod.Page, preset string) {
	defer func() { _ = recover() }()
	page = page.Context(ctx)
	target := w.frame(page)
	switch preset {
	case "speaker", "":
		if el, err := target.Timeout(2 * time.Second).Element(`[data-testid="layout-button"]`); err == nil {
			_ = el.Click("left", 1)
		}
	}
}

func (w *Webex) DetectMeetingEnd(ctx context.Context, page *rod.Page) bool {
	page = page.Context(ctx)
	target := w.frame(page)
	return !target.Timeout(time.Second).MustHas(webexInMeetingSelector)
}

func (w *Webex) ApplyPassword(ctx context.Context, page *rod.Page, password string) bool {
	page = page.Context(ctx)
	target := w.frame(page)
	el, err := target.Timeout(1 * time.Second).Element(`input[type="password"]`)
	if err != nil {
		return false
	}
	_ = el.Input(password)
	if submit, err := target.Element(`button[data-testid="password-submit"]`); err == nil {
		_ = submit.Click("left", 1)
	}
	return true
}

func (w *Webex) CollectDiagnostics(ctx context.Context, page *rod.Page, dir string, errCode model.ErrorCode, errMsg string, console []provider.ConsoleMessage) (provider.DiagnosticData, error) {
	page = page.Context(ctx)
	data := provider.DiagnosticData{
		ProviderName: w.Name(),
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
		CollectedAt:  time.Now(),
	}
	if info, err := page.Info(); err == nil {
		data.URL = info.URL
		data.Title = info.Title
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return data, fmt.Errorf("webex: create diagnostics dir: %w", err)
	}
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
