// SPDX-License-Identifier: MIT

// Package fake is an httptest-backed Uploader: it round-trips the artifact
// through a local HTTP server instead of a real video-hosting API.
// cmd/meeting-recorderd wires it in when upload is enabled, so the upload
// fan-out path runs end-to-end without network access.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	"github.com/eyeduck-ai/meeting-recorder/internal/uploader"
)

// Uploader posts the artifact bytes to an in-process httptest.Server and
// returns a synthetic video id/url built from the upload count.
type Uploader struct {
	Server *httptest.Server

	mu      sync.Mutex
	uploads int

	// FailNext, if set, makes the next Upload call return this error
	// instead of succeeding; consumed once.
	FailNext error
}

// New starts the backing httptest.Server and returns a ready Uploader.
func New() *Uploader {
	u := &Uploader{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	return u
}

// Close shuts down the backing server.
func (u *Uploader) Close() { u.Server.Close() }

// Upload implements uploader.Uploader.
func (u *Uploader) Upload(ctx context.Context, path string, meta uploader.Metadata, progress uploader.ProgressFunc) (uploader.Result, error) {
	u.mu.Lock()
	if u.FailNext != nil {
		err := u.FailNext
		u.FailNext = nil
		u.mu.Unlock()
		return uploader.Result{}, err
	}
	u.uploads++
	n := u.uploads
	u.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return uploader.Result{}, fmt.Errorf("fake uploader: read artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Server.URL, bytes.NewReader(data))
	if err != nil {
		return uploader.Result{}, fmt.Errorf("fake uploader: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return uploader.Result{}, fmt.Errorf("fake uploader: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if progress != nil {
		progress(int64(len(data)))
	}

	id := fmt.Sprintf("fake-video-%d", n)
	return uploader.Result{VideoID: id, VideoURL: u.Server.URL + "/v/" + id}, nil
}

var _ uploader.Uploader = (*Uploader)(nil)
