// Package downloader is the boundary to the external media extraction and
// download engine. The engine is opaque: it gets a URL and a format selector,
// reports progress events and writes files into the output directory.
package downloader

import (
	"context"
	"errors"
)

// ErrCanceled is returned by a progress callback to abort the running
// download. Engines propagate it unchanged so the caller can tell a requested
// abort apart from a genuine failure.
var ErrCanceled = errors.New("Canceled by user")

// Progress event statuses reported by engines.
const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// Request describes one download.
type Request struct {
	URL       string
	OutputDir string
	Format    string
	Quiet     bool
}

// Event is a single progress report. Pointer fields are nil when the engine
// does not know the value.
type Event struct {
	Status             string
	DownloadedBytes    *int64
	TotalBytes         *int64
	TotalBytesEstimate *int64
	Speed              *float64
	ETA                *float64
	Elapsed            *float64
	Filename           string
}

// ProgressFunc receives every progress event. Returning an error (normally
// ErrCanceled) aborts the download.
type ProgressFunc func(Event) error

// Info is the engine's metadata for a media item, kept as the engine shaped it.
type Info map[string]any

type Engine interface {
	// Download runs to completion and returns the metadata of what was
	// written. If progress returned an error, Download returns that error.
	Download(ctx context.Context, req Request, progress ProgressFunc) (Info, error)
	// Extract fetches metadata without downloading.
	Extract(ctx context.Context, url string) (Info, error)
}
