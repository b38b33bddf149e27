// SPDX-License-Identifier: MIT

// Package uploader defines the video-hosting upload port. A real OAuth
// device-code flow and chunked upload implementation are deliberately out
// of scope here; this package only defines the interface the job runner's
// upload fan-out depends on, plus a noop implementation (uploads disabled)
// and a fake implementation backed by httptest, which cmd/meeting-recorderd
// wires in when upload is enabled.
package uploader

import "context"

// Metadata is the descriptive information attached to an uploaded video.
type Metadata struct {
	Title       string
	Description string
	Privacy     string // e.g. "private", "unlisted", "public"
}

// ProgressFunc is invoked with bytes sent so far, as the upload proceeds.
// Implementations that cannot report progress may ignore it (pass nil).
type ProgressFunc func(bytesSent int64)

// Result is returned on a successful upload.
type Result struct {
	VideoID  string
	VideoURL string
}

// Uploader is the single-method port the job runner calls after a
// successful, upload-enabled Job. The uploader may itself remux or
// transcode the artifact before shipping; the core passes the artifact
// path verbatim and never inspects its contents.
type Uploader interface {
	Upload(ctx context.Context, path string, meta Metadata, progress ProgressFunc) (Result, error)
}
