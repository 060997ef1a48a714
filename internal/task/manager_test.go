package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytdlp-api/internal/downloader"
)

type outcome struct {
	info downloader.Info
	err  error
}

// scriptedEngine lets a test feed progress events and decide when and how a
// download ends.
type scriptedEngine struct {
	started chan downloader.Request
	events  chan downloader.Event
	acks    chan error
	finish  chan outcome
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{
		started: make(chan downloader.Request, 4),
		events:  make(chan downloader.Event),
		acks:    make(chan error),
		finish:  make(chan outcome),
	}
}

func (e *scriptedEngine) Download(ctx context.Context, req downloader.Request, progress downloader.ProgressFunc) (downloader.Info, error) {
	e.started <- req
	for {
		select {
		case ev := <-e.events:
			err := progress(ev)
			e.acks <- err
			if err != nil {
				return nil, err
			}
		case out := <-e.finish:
			return out.info, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (e *scriptedEngine) Extract(ctx context.Context, url string) (downloader.Info, error) {
	return downloader.Info{"id": "x"}, nil
}

// emit delivers one progress event and returns what the callback answered.
func (e *scriptedEngine) emit(t *testing.T, ev downloader.Event) error {
	t.Helper()
	select {
	case e.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("engine not accepting events")
	}
	return <-e.acks
}

func (e *scriptedEngine) waitStarted(t *testing.T) downloader.Request {
	t.Helper()
	select {
	case req := <-e.started:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("download never started")
	}
	return downloader.Request{}
}

func newTestManager(t *testing.T) (*Manager, *scriptedEngine, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	engine := newScriptedEngine()
	m := NewManager(ctx, newTestStore(t), engine)
	t.Cleanup(cancel)
	return m, engine, cancel
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("orchestration did not finish: %v", err)
	}
}

func mustGet(t *testing.T, m *Manager, id string) *Record {
	t.Helper()
	r, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return r
}

func TestManagerDownloadCompletes(t *testing.T) {
	m, engine, _ := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "https://example.com/a", OutputPath: "./downloads", Format: "best"})
	r := mustGet(t, m, id)
	if r.Status != StatusPending && r.Status != StatusDownloading {
		t.Errorf("fresh task status = %s, expected pending or downloading", r.Status)
	}

	req := engine.waitStarted(t)
	if req.URL != "https://example.com/a" || req.Format != "best" || req.OutputDir != "./downloads" {
		t.Errorf("engine got wrong request: %+v", req)
	}

	if err := engine.emit(t, downloader.Event{Status: "downloading", DownloadedBytes: i64(100), TotalBytes: i64(1000)}); err != nil {
		t.Fatalf("progress callback returned %v", err)
	}
	r = mustGet(t, m, id)
	if r.Status != StatusDownloading {
		t.Errorf("status = %s, expected downloading", r.Status)
	}
	if r.Progress == nil || r.Progress.Percent == nil || *r.Progress.Percent != 10.0 {
		t.Errorf("expected 10%% progress, got %+v", r.Progress)
	}

	// ignored statuses leave the snapshot alone
	engine.emit(t, downloader.Event{Status: "post_processing", DownloadedBytes: i64(1)})
	if r = mustGet(t, m, id); *r.Progress.DownloadedBytes != 100 {
		t.Errorf("ignored event changed progress: %+v", r.Progress)
	}

	engine.finish <- outcome{info: downloader.Info{"id": "a", "title": "A"}}
	waitIdle(t, m)

	r = mustGet(t, m, id)
	if r.Status != StatusCompleted {
		t.Errorf("status = %s, expected completed", r.Status)
	}
	if r.Error != nil {
		t.Errorf("completed task has error %q", *r.Error)
	}
	if r.Result["title"] != "A" {
		t.Errorf("result not stored: %v", r.Result)
	}
}

func TestManagerEngineFailure(t *testing.T) {
	m, engine, _ := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: "o", Format: "f"})
	engine.waitStarted(t)
	engine.finish <- outcome{err: errors.New("ERROR: Unsupported URL: u")}
	waitIdle(t, m)

	r := mustGet(t, m, id)
	if r.Status != StatusFailed {
		t.Errorf("status = %s, expected failed", r.Status)
	}
	if r.ErrorMessage() != "ERROR: Unsupported URL: u" {
		t.Errorf("engine message not preserved: %q", r.ErrorMessage())
	}
	if r.Result != nil {
		t.Errorf("failed task has result %v", r.Result)
	}
}

func TestManagerSubmitIsIdempotent(t *testing.T) {
	m, engine, _ := newTestManager(t)

	req := SubmitRequest{URL: "https://example.com/a", OutputPath: "o", Format: "best"}
	first := m.Submit(req)
	second := m.Submit(req)
	if first != second {
		t.Errorf("identical submissions returned %s and %s", first, second)
	}

	engine.waitStarted(t)
	select {
	case <-engine.started:
		t.Error("duplicate submission started a second download")
	case <-time.After(50 * time.Millisecond):
	}

	engine.finish <- outcome{info: downloader.Info{}}
	waitIdle(t, m)
}

func TestManagerStopThenCancelSignal(t *testing.T) {
	m, engine, _ := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: "o", Format: "f"})
	engine.waitStarted(t)

	status, err := m.Stop(id)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if status != StatusCanceling {
		t.Errorf("Stop() = %s, expected canceling", status)
	}
	if r := mustGet(t, m, id); r.Status != StatusCanceling {
		t.Errorf("status = %s, expected canceling", r.Status)
	}

	// a second stop is accepted quietly
	if status, err := m.Stop(id); err != nil || status != StatusCanceling {
		t.Errorf("repeated Stop() = %s, %v", status, err)
	}

	err = engine.emit(t, downloader.Event{Status: "downloading", DownloadedBytes: i64(1), TotalBytes: i64(2)})
	if !errors.Is(err, downloader.ErrCanceled) {
		t.Fatalf("callback should signal cancellation, got %v", err)
	}
	waitIdle(t, m)

	r := mustGet(t, m, id)
	if r.Status != StatusCanceled {
		t.Errorf("status = %s, expected canceled", r.Status)
	}
	if r.ErrorMessage() == "" {
		t.Error("canceled task should carry an error message")
	}
	if r.Progress != nil {
		t.Errorf("event after cancel request must not be recorded: %+v", r.Progress)
	}
	if m.Store().IsCancelRequested(id) {
		t.Error("cancel flag survived the orchestration")
	}
}

func TestManagerCancelBeforeStart(t *testing.T) {
	m, engine, _ := newTestManager(t)
	s := m.Store()

	id := s.Create("u", "o", "f")
	if !s.RequestCancel(id) {
		t.Fatal("cancel request rejected")
	}
	m.run(id, downloader.Request{URL: "u", OutputDir: "o", Format: "f"})

	select {
	case <-engine.started:
		t.Error("engine started for a task canceled before execution")
	default:
	}
	r := mustGet(t, m, id)
	if r.Status != StatusCanceled || r.ErrorMessage() != downloader.ErrCanceled.Error() {
		t.Errorf("expected canceled with message, got %+v", r)
	}
	if s.IsCancelRequested(id) {
		t.Error("cancel flag not cleared")
	}
}

func TestManagerStopFinishedTask(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Store()
	id := s.Create("u", "o", "f")
	s.Update(id, Update{Status: StatusCompleted, Result: map[string]any{}})

	status, err := m.Stop(id)
	if err != nil || status != StatusCompleted {
		t.Errorf("Stop() on completed task = %s, %v", status, err)
	}
	if s.IsCancelRequested(id) {
		t.Error("stop on finished task set the cancel flag")
	}

	if _, err := m.Stop("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop() on unknown task error = %v, expected ErrNotFound", err)
	}
}

func TestManagerRestartRejectsRunning(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Store()

	for _, status := range []Status{StatusPending, StatusDownloading, StatusCanceling} {
		id := s.Create("u-"+string(status), "o", "f")
		if status != StatusPending {
			s.Update(id, Update{Status: StatusDownloading})
			s.Update(id, Update{Status: status})
		}

		_, err := m.Restart(id, false)
		var stateErr *InvalidStateError
		if !errors.As(err, &stateErr) {
			t.Errorf("Restart() on %s error = %v, expected InvalidStateError", status, err)
			continue
		}
		if stateErr.Status != status {
			t.Errorf("error reports status %s, expected %s", stateErr.Status, status)
		}
	}

	if _, err := m.Restart("missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restart() on unknown task error = %v", err)
	}
}

func TestManagerRestartFinished(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCanceled} {
		t.Run(string(terminal), func(t *testing.T) {
			m, engine, _ := newTestManager(t)
			s := m.Store()
			id := s.Create("https://example.com/r", "o", "best")
			s.Update(id, Update{Status: StatusDownloading, Progress: &Progress{Status: "downloading"}})
			u := Update{Status: terminal, Error: errorText("old")}
			if terminal == StatusCompleted {
				u = Update{Status: terminal, Result: map[string]any{"title": "old"}}
			}
			s.Update(id, u)

			r, err := m.Restart(id, true)
			if err != nil {
				t.Fatalf("Restart() error = %v", err)
			}
			if r.Status != StatusPending || r.Result != nil || r.Error != nil || r.Progress != nil {
				t.Errorf("restart did not reset the record: %+v", r)
			}

			req := engine.waitStarted(t)
			if req.URL != "https://example.com/r" || !req.Quiet {
				t.Errorf("relaunch got %+v", req)
			}
			engine.finish <- outcome{info: downloader.Info{"title": "new"}}
			waitIdle(t, m)

			if r := mustGet(t, m, id); r.Status != StatusCompleted || r.Result["title"] != "new" {
				t.Errorf("restarted run did not complete: %+v", r)
			}
		})
	}
}

func TestManagerDeleteCompleted(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Store()
	out := t.TempDir()

	first := filepath.Join(out, "first.mp4")
	second := filepath.Join(out, "second.mp4")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	id := s.Create("u", out, "best")
	s.Update(id, Update{Status: StatusCompleted, Result: map[string]any{
		"requested_downloads": []any{
			map[string]any{"filepath": first},
			map[string]any{"filepath": second},
		},
	}})

	res, err := m.Delete(id)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if res.DeletedFiles != 2 {
		t.Errorf("DeletedFiles = %d, expected 2", res.DeletedFiles)
	}
	if res.CancelRequested {
		t.Error("completed task should not get a cancel request")
	}
	for _, p := range []string{first, second} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s not removed", p)
		}
	}
	if _, err := m.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted task still readable: %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("deleted task still listed")
	}

	if _, err := m.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestManagerDeleteRunning(t *testing.T) {
	m, engine, _ := newTestManager(t)
	out := t.TempDir()
	partial := filepath.Join(out, "clip.mp4.part")
	if err := os.WriteFile(partial, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: out, Format: "f"})
	engine.waitStarted(t)
	engine.emit(t, downloader.Event{Status: "downloading", DownloadedBytes: i64(7), Filename: partial})

	res, err := m.Delete(id)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.CancelRequested {
		t.Error("running task should get a cancel request")
	}
	if res.DeletedFiles != 1 {
		t.Errorf("DeletedFiles = %d, expected the partial file", res.DeletedFiles)
	}

	// the orchestration notices on its next event and winds down quietly
	if err := engine.emit(t, downloader.Event{Status: "downloading"}); !errors.Is(err, downloader.ErrCanceled) {
		t.Errorf("callback after delete returned %v", err)
	}
	waitIdle(t, m)

	if _, err := m.Get(id); !errors.Is(err, ErrNotFound) {
		t.Error("deleted task came back")
	}
	if m.Store().IsCancelRequested(id) {
		t.Error("cancel flag left behind")
	}
}

func TestManagerDeleteWhileCanceling(t *testing.T) {
	m, engine, _ := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: t.TempDir(), Format: "f"})
	engine.waitStarted(t)
	if status, err := m.Stop(id); err != nil || status != StatusCanceling {
		t.Fatalf("Stop() = %s, %v", status, err)
	}

	res, err := m.Delete(id)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.CancelRequested {
		t.Error("pending stop not reported as a cancel request")
	}

	engine.finish <- outcome{err: downloader.ErrCanceled}
	waitIdle(t, m)
}

func TestManagerStopAfterRestart(t *testing.T) {
	m, engine, _ := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: "o", Format: "f"})
	engine.waitStarted(t)
	engine.finish <- outcome{err: errors.New("network down")}
	waitIdle(t, m)

	if _, err := m.Restart(id, false); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	engine.waitStarted(t)
	if status, err := m.Stop(id); err != nil || status != StatusCanceling {
		t.Fatalf("Stop() = %s, %v", status, err)
	}

	// the first run is over, so nothing may clear the new request
	if !m.Store().IsCancelRequested(id) {
		t.Fatal("stop of the restarted run was lost")
	}
	if err := engine.emit(t, downloader.Event{Status: "downloading", DownloadedBytes: i64(1)}); !errors.Is(err, downloader.ErrCanceled) {
		t.Errorf("callback returned %v, expected ErrCanceled", err)
	}
	waitIdle(t, m)

	r := mustGet(t, m, id)
	if r.Status != StatusCanceled {
		t.Errorf("status = %s, expected canceled", r.Status)
	}
	if m.Store().IsCancelRequested(id) {
		t.Error("cancel flag left behind")
	}
}

func TestManagerShutdownInterruptsDownloads(t *testing.T) {
	m, engine, cancel := newTestManager(t)

	id := m.Submit(SubmitRequest{URL: "u", OutputPath: "o", Format: "f"})
	engine.waitStarted(t)
	cancel()
	waitIdle(t, m)

	r := mustGet(t, m, id)
	if r.Status != StatusFailed || r.ErrorMessage() != "interrupted by server shutdown" {
		t.Errorf("expected failed by shutdown, got %+v", r)
	}
}

type panickyEngine struct{}

func (panickyEngine) Download(context.Context, downloader.Request, downloader.ProgressFunc) (downloader.Info, error) {
	panic("boom")
}

func (panickyEngine) Extract(context.Context, string) (downloader.Info, error) {
	return nil, nil
}

func TestManagerEnginePanicFailsTask(t *testing.T) {
	m := NewManager(context.Background(), newTestStore(t), panickyEngine{})
	id := m.Submit(SubmitRequest{URL: "u", OutputPath: "o", Format: "f"})
	waitIdle(t, m)

	if r := mustGet(t, m, id); r.Status != StatusFailed || r.ErrorMessage() == "" {
		t.Errorf("panic should fail the task, got %+v", r)
	}
}
