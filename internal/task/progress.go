package task

import (
	"math"

	"ytdlp-api/internal/downloader"
)

// acceptsEvent reports whether a progress event should reach the store.
func acceptsEvent(ev downloader.Event) bool {
	return ev.Status == downloader.StatusDownloading || ev.Status == downloader.StatusFinished
}

// NewProgress normalizes an engine event. The byte total falls back to the
// estimate for the percentage; all other fields pass through.
func NewProgress(ev downloader.Event) *Progress {
	p := &Progress{
		Status:             ev.Status,
		DownloadedBytes:    ev.DownloadedBytes,
		TotalBytes:         ev.TotalBytes,
		TotalBytesEstimate: ev.TotalBytesEstimate,
		Speed:              ev.Speed,
		ETA:                ev.ETA,
		Elapsed:            ev.Elapsed,
		Filename:           ev.Filename,
	}

	total := ev.TotalBytes
	if total == nil || *total == 0 {
		total = ev.TotalBytesEstimate
	}
	if total != nil && *total != 0 && ev.DownloadedBytes != nil {
		percent := math.Round(float64(*ev.DownloadedBytes)/float64(*total)*100*100) / 100
		p.Percent = &percent
	}
	return p
}
