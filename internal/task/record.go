package task

import (
	"maps"
	"time"
)

// Record is the durable state of one task. URL, OutputPath and Format never
// change after creation.
type Record struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	OutputPath string         `json:"output_path"`
	Format     string         `json:"format"`
	Status     Status         `json:"status"`
	Result     map[string]any `json:"result"`
	Error      *string        `json:"error"`
	Progress   *Progress      `json:"progress"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Progress is the normalized snapshot of the last engine event. Percent is
// nil when the total size is unknown.
type Progress struct {
	Status             string   `json:"status"`
	DownloadedBytes    *int64   `json:"downloaded_bytes"`
	TotalBytes         *int64   `json:"total_bytes"`
	TotalBytesEstimate *int64   `json:"total_bytes_estimate"`
	Speed              *float64 `json:"speed"`
	ETA                *float64 `json:"eta"`
	Elapsed            *float64 `json:"elapsed"`
	Percent            *float64 `json:"percent"`
	Filename           string   `json:"filename,omitempty"`
}

// clone returns a copy safe to hand out of the store. Result and Progress are
// replaced wholesale on update, never edited in place, so a shallow map copy
// is enough.
func (r *Record) clone() *Record {
	c := *r
	if r.Result != nil {
		c.Result = maps.Clone(r.Result)
	}
	if r.Error != nil {
		msg := *r.Error
		c.Error = &msg
	}
	if r.Progress != nil {
		p := *r.Progress
		c.Progress = &p
	}
	return &c
}

// ErrorMessage returns the error text or "".
func (r *Record) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

func (r *Record) matches(url, outputPath, format string) bool {
	return r.URL == url && r.OutputPath == outputPath && r.Format == format
}
