package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const (
	progressInterval = 250 * time.Millisecond
	maxFilenameLen   = 200
	fallbackTemplate = "%(title).180s.%(ext)s"
)

// YtDlp drives the yt-dlp executable through go-ytdlp.
type YtDlp struct {
	executable string
}

// NewYtDlp returns an engine using the given yt-dlp binary, or the one on
// PATH when executable is empty.
func NewYtDlp(executable string) *YtDlp {
	return &YtDlp{executable: executable}
}

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if y.executable != "" {
		cmd.SetExecutable(y.executable)
	}
	return cmd
}

func (y *YtDlp) Extract(ctx context.Context, url string) (Info, error) {
	res, err := y.command().
		SkipDownload().
		DumpSingleJSON().
		NoWarnings().
		Run(ctx, url)
	if err != nil {
		return nil, err
	}
	info := lastInfoJSON(res.Stdout)
	if info == nil {
		info, err = extractedInfo(res)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

func (y *YtDlp) Download(ctx context.Context, req Request, progress ProgressFunc) (Info, error) {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cmd := y.command().
		Format(req.Format).
		Output(y.outputTemplate(ctx, req)).
		PrintJSON().
		NoAbortOnError()
	if req.Quiet {
		cmd.NoWarnings()
	}
	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if progress == nil {
			return
		}
		if err := progress(eventFromUpdate(update)); err != nil {
			cancel(err)
		}
	})

	res, runErr := cmd.Run(ctx, req.URL)
	if cause := context.Cause(ctx); errors.Is(cause, ErrCanceled) {
		return nil, cause
	}
	if runErr != nil {
		return nil, runErr
	}

	info := lastInfoJSON(res.Stdout)
	if info == nil {
		var err error
		if info, err = extractedInfo(res); err != nil {
			return nil, fmt.Errorf("read download result: %w", err)
		}
	}
	return info, nil
}

// outputTemplate pre-fetches the title so the file name can be made safe. If
// that fails, yt-dlp's own template is used.
func (y *YtDlp) outputTemplate(ctx context.Context, req Request) string {
	info, err := y.Extract(ctx, req.URL)
	if err != nil {
		log.Printf("[downloader] metadata pre-fetch failed for %s: %v", req.URL, err)
		return filepath.Join(req.OutputDir, fallbackTemplate)
	}
	title, _ := info["title"].(string)
	if title == "" {
		title = "video"
	}
	ext, _ := info["ext"].(string)
	if ext == "" {
		ext = "mp4"
	}
	name := SafeFilename(title, req.Format, ext, maxFilenameLen)
	// yt-dlp treats % as a template directive
	return filepath.Join(req.OutputDir, strings.ReplaceAll(name, "%", "%%"))
}

// eventFromUpdate maps a go-ytdlp update. go-ytdlp folds yt-dlp's size
// estimate into TotalBytes and does not pass on yt-dlp's speed, so
// TotalBytesEstimate and Speed stay nil. Elapsed counts from the first
// progress report of the file.
func eventFromUpdate(update ytdlp.ProgressUpdate) Event {
	ev := Event{
		Status:   string(update.Status),
		Filename: update.Filename,
	}
	downloaded := int64(update.DownloadedBytes)
	ev.DownloadedBytes = &downloaded
	if update.TotalBytes > 0 {
		total := int64(update.TotalBytes)
		ev.TotalBytes = &total
	}
	if !update.Started.IsZero() {
		elapsed := update.Duration().Seconds()
		ev.Elapsed = &elapsed
	}
	if eta := update.ETA(); eta > 0 {
		secs := eta.Seconds()
		ev.ETA = &secs
	}
	return ev
}

// lastInfoJSON returns the last info dict printed on stdout, or nil.
func lastInfoJSON(stdout string) Info {
	var found Info
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info Info
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			continue
		}
		if _, ok := info["id"]; !ok {
			continue
		}
		if _, ok := info["extractor"]; !ok {
			continue
		}
		found = info
	}
	return found
}

func extractedInfo(res *ytdlp.Result) (Info, error) {
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, errors.New("engine returned no metadata")
	}
	data, err := json.Marshal(infos[0])
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return info, nil
}
