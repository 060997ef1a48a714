package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"ytdlp-api/internal/cache"
	"ytdlp-api/internal/downloader"
)

// SubmitRequest is a download submission.
type SubmitRequest struct {
	URL        string
	OutputPath string
	Format     string
	Quiet      bool
}

// DeleteResult reports what a delete did.
type DeleteResult struct {
	ID              string `json:"id"`
	CancelRequested bool   `json:"cancel_requested"`
	DeletedFiles    int    `json:"deleted_files"`
}

// Manager runs downloads for the tasks in a Store. Each submitted or
// restarted task gets one goroutine that owns the engine call.
type Manager struct {
	store  *Store
	engine downloader.Engine

	// ctx bounds every engine call; canceling it aborts in-flight downloads.
	ctx context.Context
	wg  sync.WaitGroup

	// restartMu makes the running check and the reset in Restart atomic.
	restartMu sync.Mutex
}

func NewManager(ctx context.Context, store *Store, engine downloader.Engine) *Manager {
	return &Manager{
		store:  store,
		engine: engine,
		ctx:    ctx,
	}
}

func (m *Manager) Store() *Store {
	return m.store
}

// Submit returns the id of an existing task with the same URL, output path
// and format, or creates one and starts downloading it.
func (m *Manager) Submit(req SubmitRequest) string {
	id, created := m.store.FindOrCreate(req.URL, req.OutputPath, req.Format)
	if !created {
		return id
	}
	log.Printf("[task] %s submitted: %s (format %s)", id, req.URL, req.Format)
	m.launch(id, downloader.Request{
		URL:       req.URL,
		OutputDir: req.OutputPath,
		Format:    req.Format,
		Quiet:     req.Quiet,
	})
	return id
}

func (m *Manager) Get(id string) (*Record, error) {
	r, ok := m.store.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	return r, nil
}

func (m *Manager) List() []*Record {
	return m.store.List()
}

// Stop requests cancellation and returns the resulting status. Stopping a
// finished task, or one already being stopped, is not an error: the current
// status is returned.
func (m *Manager) Stop(id string) (Status, error) {
	r, ok := m.store.Get(id)
	if !ok {
		return "", notFound(id)
	}
	if !m.store.RequestCancel(id) {
		return r.Status, nil
	}
	if m.store.Update(id, Update{Status: StatusCanceling}) {
		log.Printf("[task] %s cancel requested", id)
		return StatusCanceling, nil
	}
	// finished between the request and the transition
	if r, ok = m.store.Get(id); !ok {
		return "", notFound(id)
	}
	return r.Status, nil
}

// Restart resets a finished task and downloads it again. Running tasks are
// rejected with an *InvalidStateError.
func (m *Manager) Restart(id string, quiet bool) (*Record, error) {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	r, ok := m.store.Get(id)
	if !ok {
		return nil, notFound(id)
	}
	if r.Status.IsRunning() {
		return nil, &InvalidStateError{Status: r.Status}
	}

	restarted, ok := m.store.Restart(id)
	if !ok {
		return nil, notFound(id)
	}
	log.Printf("[task] %s restarted", id)
	m.launch(id, downloader.Request{
		URL:       restarted.URL,
		OutputDir: restarted.OutputPath,
		Format:    restarted.Format,
		Quiet:     quiet,
	})
	return restarted, nil
}

// Delete asks a running task to cancel without waiting for it, removes the
// task's files and drops the record.
func (m *Manager) Delete(id string) (DeleteResult, error) {
	r, ok := m.store.Get(id)
	if !ok {
		return DeleteResult{}, notFound(id)
	}

	res := DeleteResult{ID: id}
	if r.Status.IsRunning() {
		// a stop already in flight counts as requested
		res.CancelRequested = m.store.RequestCancel(id) || m.store.IsCancelRequested(id)
	}

	var progressFile string
	if r.Progress != nil {
		progressFile = r.Progress.Filename
	}
	res.DeletedFiles = cache.RemoveArtifacts(r.OutputPath, r.Result, progressFile)

	if !m.store.Delete(id) {
		return DeleteResult{}, notFound(id)
	}
	log.Printf("[task] %s deleted (%d files, cancel requested: %v)", id, res.DeletedFiles, res.CancelRequested)
	return res, nil
}

// Wait blocks until every running download has returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) launch(id string, req downloader.Request) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(id, req)
	}()
}

// run drives one download through the lifecycle. Progress callbacks push
// snapshots and turn a pending cancel request into downloader.ErrCanceled.
// Every path ends in finish, which clears the cancel flag.
func (m *Manager) run(id string, req downloader.Request) {
	if m.store.IsCancelRequested(id) {
		m.finish(id, Update{Status: StatusCanceled, Error: errorText(downloader.ErrCanceled.Error())})
		return
	}

	m.store.Update(id, Update{Status: StatusDownloading})

	result, err := m.download(id, req)
	switch {
	case errors.Is(err, downloader.ErrCanceled):
		m.finish(id, Update{Status: StatusCanceled, Error: errorText(err.Error())})
	case err != nil && m.ctx.Err() != nil:
		m.finish(id, Update{Status: StatusFailed, Error: errorText("interrupted by server shutdown")})
	case err != nil:
		m.finish(id, Update{Status: StatusFailed, Error: errorText(err.Error())})
	default:
		if result == nil {
			result = downloader.Info{}
		}
		m.finish(id, Update{Status: StatusCompleted, Result: result})
	}
}

func (m *Manager) download(id string, req downloader.Request) (result downloader.Info, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("download engine panic: %v", p)
		}
	}()

	return m.engine.Download(m.ctx, req, func(ev downloader.Event) error {
		if !acceptsEvent(ev) {
			return nil
		}
		if m.store.IsCancelRequested(id) {
			return downloader.ErrCanceled
		}
		m.store.Update(id, Update{Status: StatusDownloading, Progress: NewProgress(ev)})
		return nil
	})
}

func (m *Manager) finish(id string, u Update) {
	if !m.store.Finish(id, u) {
		log.Printf("[task] %s: %s not applied (task deleted or already finished)", id, u.Status)
		return
	}
	if u.Error != nil {
		log.Printf("[task] %s %s: %s", id, u.Status, *u.Error)
	} else {
		log.Printf("[task] %s %s", id, u.Status)
	}
}

func errorText(msg string) *string {
	return &msg
}
