// SPDX-License-Identifier: MIT

// Package browser launches the headless Chromium instance a recording job
// drives to join a meeting, and collects its console output for diagnostics.
//
// Each job gets its own Browser: unlike a crawler's shared pool, a meeting
// session owns its tab for the job's whole lifetime, so there is no page or
// browser pooling here — just a launcher bound to the job's virtual display.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls how a job's Chromium instance is launched.
type Config struct {
	// Env carries DISPLAY/PULSE_SERVER/PULSE_SINK so Chromium renders into
	// the job's virtual display and plays audio into its virtual sink.
	Env []string

	Headless       bool // false: render for x11grab to capture; true: offscreen
	WindowWidth    int
	WindowHeight   int
	UserAgentOverride string
}

// ConsoleEntry is one captured browser console message; internal/worker
// hands these to the provider adapter's CollectDiagnostics, which writes
// console.log alongside a failed job's other artifacts.
type ConsoleEntry struct {
	Level string
	Text  string
}

// Browser wraps a single launched Chromium process and its one open page.
type Browser struct {
	cfg      Config
	launcher *launcher.Launcher
	instance *rod.Browser
	page     *rod.Page

	mu      sync.Mutex
	console []ConsoleEntry
}

// Launch starts a dedicated Chromium instance for a single job.
//
// Headless is deliberately false by default: the capture pipeline records
// the X11 display the browser renders into, so the window must actually be
// presented, not suppressed (go-rod's NoSandbox/Headless(false) mode).
func Launch(cfg Config) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("window-size", fmt.Sprintf("%d,%d", valueOrInt(cfg.WindowWidth, 1920), valueOrInt(cfg.WindowHeight, 1080))).
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-notifications").
		Set("disable-infobars").
		Set("autoplay-policy", "no-user-gesture-required")

	l.Env(cfg.Env...)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch chromium: %w", err)
	}

	instance := rod.New().ControlURL(controlURL)
	if err := instance.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	// Grant microphone capture only; the camera stays ungranted so meetings
	// join with video off.
	if err := (proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{proto.BrowserPermissionTypeAudioCapture},
	}).Call(instance); err != nil {
		_ = instance.Close()
		return nil, fmt.Errorf("browser: grant microphone permission: %w", err)
	}

	b := &Browser{cfg: cfg, launcher: l, instance: instance}
	return b, nil
}

// Navigate opens the job's single page at url and begins collecting console
// output. Must be called once, before any detector or provider action.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	page, err := b.instance.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	page = page.Context(ctx)

	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		b.mu.Lock()
		defer b.mu.Unlock()
		text := ""
		for _, arg := range e.Args {
			if arg.Value.Val() != nil {
				text += fmt.Sprintf("%v ", arg.Value.Val())
			}
		}
		b.console = append(b.console, ConsoleEntry{Level: string(e.Type), Text: text})
	})()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate to %s: %w", url, err)
	}
	b.page = page
	return nil
}

// Page returns the job's single open page, for provider adapters and
// detectors to query/act on.
func (b *Browser) Page() *rod.Page {
	return b.page
}

// ConsoleLog returns a snapshot of captured console entries, in arrival order.
func (b *Browser) ConsoleLog() []ConsoleEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ConsoleEntry, len(b.console))
	copy(out, b.console)
	return out
}

// Screenshot returns a PNG screenshot of the current page, for diagnostics.
func (b *Browser) Screenshot() ([]byte, error) {
	if b.page == nil {
		return nil, fmt.Errorf("browser: no page open")
	}
	return b.page.Screenshot(true, nil)
}

// HTML returns the page's current outer HTML, for diagnostics.
func (b *Browser) HTML() (string, error) {
	if b.page == nil {
		return "", fmt.Errorf("browser: no page open")
	}
	return b.page.HTML()
}

// Close terminates the browser process and releases its resources.
func (b *Browser) Close() error {
	if b.instance != nil {
		return b.instance.Close()
	}
	return nil
}

func valueOrInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
