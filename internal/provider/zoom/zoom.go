// SPDX-License-Identifier: MIT

// Package zoom implements provider.Provider for Zoom meetings, forcing the
// web client by appending zc=0 to every join URL.
package zoom

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
	provider.Register("zoom", func() provider.Provider { return &Zoom{} })
}

type Zoom struct{}

func (z *Zoom) Name() string { return "zoom" }

// BuildJoinURL forces the web client via zc=0: a bare numeric or
// alphanumeric code becomes "/j/<code>?zc=0"; a full URL is passed through
// with zc=0 appended to its query.
func (z *Zoom) BuildJoinURL(roomCode, baseURL string) (string, error) {
	if roomCode == "" {
		return "", fmt.Errorf("zoom: room code cannot be empty")
	}

	if strings.HasPrefix(roomCode, "http://") || strings.HasPrefix(roomCode, "https://") {
		u, err := url.Parse(roomCode)
		if err != nil {
			return "", fmt.Errorf("zoom: invalid join URL %q: %w", roomCode, err)
		}
		q := u.Query()
		q.Set("zc", "0")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://zoom.us"
	}
	return fmt.Sprintf("%s/j/%s?zc=0", base, url.PathEscape(roomCode)), nil
}

func (z *Zoom) Prejoin(ctx context.Context, page *rod.Page, displayName, password string) error {
	page = page.Context(ctx)

	if el, err := page.Timeout(8 * time.Second).Element(`input#inputname, input[name="display-name"]`); err == nil {
		_ = el.Input(displayName)
	}
	if password != "" {
		if el, err := page.Timeout(2 * time.Second).Element(`input#inputpasscode, input[name="passcode"]`); err == nil {
			_ = el.Input(password)
		}
	}
	return nil
}

func (z *Zoom) ClickJoin(ctx context.Context, page *rod.Page) error {
	page = page.Context(ctx)
	el, err := page.Timeout(10 * time.Second).Element(`button#joinBtn, button.joinBtn`)
	if err != nil {
		return fmt.Errorf("zoom: join button not found: %w", err)
	}
	return el.Click("left", 1)
}

const zoomInMeetingSelector = `#wc-footer, .footer__leave-btn-container`
const zoomErrorSelector = `.zm-modal-body-title, #error-description`
const zoomLobbySelector = `.zm-waiting-room, #waitingRoomPanel`

func (z *Zoom) WaitUntilJoined(ctx context.Context, page *rod.Page, timeout time.Duration, password string) (provider.JoinResult, error) {
	page = page.Context(ctx)
	deadline := time.Now().Add(timeout)
	passwordTried := false

	for time.Now().Before(deadline) {
		if page.Timeout(300 * time.Millisecond).MustHas(zoomInMeetingSelector) {
			return provider.JoinResult{Success: true}, nil
		}
		if page.Timeout(300 * time.Millisecond).MustHas(zoomErrorSelector) {
			return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinFailed, ErrorMessage: "zoom reported an error dialog"}, nil
		}
		if password != "" && !passwordTried {
			if z.ApplyPassword(ctx, page, password) {
				passwordTried = true
			}
		}
		if page.Timeout(300 * time.Millisecond).MustHas(zoomLobbySelector) {
			return provider.JoinResult{Success: false, InLobby: true}, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return provider.JoinResult{Success: false, ErrorCode: model.ErrJoinTimeout, ErrorMessage: "timed out waiting to join"}, nil
}

func (z *Zoom) WaitInLobby(ctx context.Context, page *rod.Page, maxWait time.Duration) bool {
	page = page.Context(ctx)
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if page.Timeout(300 * time.Millisecond).MustHas(zoomInMeetingSelector) {
			return true
		}
		if page.Timeout(300*time.Millisecond).MustHas(`#waitingRoomRejected`) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

func (z *Zoom) SetLayout(ctx context.Context, page *rod.Page, preset string) {
	defer func() { _ = recover() }()
	page = page.Context(ctx)
	switch preset {
	case "speaker", "":
		if el, err := page.Timeout(2 * time.Second).Element(`button[aria-label="View"]`); err == nil {
			_ = el.Click("left", 1)
		}
	}
}

func (z *Zoom) DetectMeetingEnd(ctx context.Context, page *rod.Page) bool {
	page = page.Context(ctx)
	return !page.Timeout(time.Second).MustHas(zoomInMeetingSelector)
}

func (z *Zoom) ApplyPassword(ctx context.Context, page *rod.Page, password string) bool {
	page = page.Context(ctx)
	el, err := page.Timeout(1 * time.Second).Element(`input#inputpasscode`)
	if err != nil {
		return false
	}
	_ = el.Input(password)
	if submit, err := page.Element(`button#joinBtn`); err == nil {
		_ = submit.Click("left", 1)
	}
	return true
}

func (z *Zoom) CollectDiagnostics(ctx context.Context, page *rod.Page, dir string, errCode model.ErrorCode, errMsg string, console []provider.ConsoleMessage) (provider.DiagnosticData, error) {
	page = page.Context(ctx)
	data := provider.DiagnosticData{
		ProviderName: z.Name(),
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
		CollectedAt:  time.Now(),
	}
	if info, err := page.Info(); err == nil {
		data.URL = info.URL
		data.Title = info.Title
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return data, fmt.Errorf("zoom: create diagnostics dir: %w", err)
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
