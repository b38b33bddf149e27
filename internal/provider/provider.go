// SPDX-License-Identifier: MIT

// Package provider defines the meeting-vendor adapter contract and the
// process-wide registry adapters register themselves into. Concrete
// adapters live in the jitsi, webex, and zoom subpackages; each calls
// Register from its own init().
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// JoinResult is returned by WaitUntilJoined.
type JoinResult struct {
	Success      bool
	InLobby      bool
	ErrorCode    model.ErrorCode
	ErrorMessage string
}

// DiagnosticData is the manifest CollectDiagnostics returns after writing
// screenshot.png, page.html, and console.log to dir itself; the worker
// persists this manifest as metadata.json alongside them.
type DiagnosticData struct {
	URL          string
	Title        string
	ViewportW    int
	ViewportH    int
	ErrorCode    model.ErrorCode
	ErrorMessage string
	ProviderName string
	CollectedAt  time.Time
}

// ConsoleMessage is one browser console line, passed through to
// CollectDiagnostics for inclusion in console.log.
type ConsoleMessage struct {
	Level string
	Text  string
}

// Provider is the capability set every meeting vendor adapter implements.
// All methods that touch the page are blocking calls expected to run with
// a caller-supplied timeout via ctx or an explicit timeout parameter.
type Provider interface {
	Name() string

	// BuildJoinURL is pure: it never touches the network or the page.
	BuildJoinURL(roomCode, baseURL string) (string, error)

	Prejoin(ctx context.Context, page *rod.Page, displayName, password string) error
	ClickJoin(ctx context.Context, page *rod.Page) error
	WaitUntilJoined(ctx context.Context, page *rod.Page, timeout time.Duration, password string) (JoinResult, error)
	WaitInLobby(ctx context.Context, page *rod.Page, maxWait time.Duration) bool
	SetLayout(ctx context.Context, page *rod.Page, preset string)
	DetectMeetingEnd(ctx context.Context, page *rod.Page) bool
	ApplyPassword(ctx context.Context, page *rod.Page, password string) bool
	CollectDiagnostics(ctx context.Context, page *rod.Page, dir string, errCode model.ErrorCode, errMsg string, console []ConsoleMessage) (DiagnosticData, error)
}

// Factory builds a fresh Provider instance.
type Factory func() Provider

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a provider factory under tag. Called from each adapter
// package's init(). Panics on a duplicate tag, since that is always a
// programming error caught at process start.
func Register(tag string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[tag]; exists {
		panic(fmt.Sprintf("provider: duplicate registration for tag %q", tag))
	}
	registry[tag] = f
}

// Get returns a fresh Provider for tag, or an error listing the tags that
// are actually registered.
func Get(tag string) (Provider, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[tag]
	if !ok {
		tags := make([]string, 0, len(registry))
		for k := range registry {
			tags = append(tags, k)
		}
		sort.Strings(tags)
		return nil, fmt.Errorf("provider: unknown tag %q, available: %v", tag, tags)
	}
	return f(), nil
}

// Tags returns the currently registered provider tags, sorted.
func Tags() []string {
	mu.RLock()
	defer mu.RUnlock()
	tags := make([]string, 0, len(registry))
	for k := range registry {
		tags = append(tags, k)
	}
	sort.Strings(tags)
	return tags
}
