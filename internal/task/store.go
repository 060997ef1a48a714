package task

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the task registry: an in-memory cache backed by the tasks table.
// Every mutation is written to SQLite before it becomes visible in the cache.
// A failed write is logged and the cache is still updated.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	tasks    map[string]*Record
	cancels  map[string]struct{}
	watchers map[string]map[chan *Record]struct{}
	now      func() time.Time
}

// Update carries the fields of a store update. Nil fields are left as they
// are.
type Update struct {
	Status   Status
	Result   map[string]any
	Error    *string
	Progress *Progress
}

// NewStore prepares the schema and loads every persisted task into memory.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:       db,
		tasks:    make(map[string]*Record),
		cancels:  make(map[string]struct{}),
		watchers: make(map[string]map[chan *Record]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.InitTable(); err != nil {
		return nil, err
	}

	records, err := s.loadRows()
	if err != nil {
		log.Printf("[store] error loading tasks from database: %v", err)
	}
	for _, r := range records {
		s.tasks[r.ID] = r
	}
	log.Printf("[store] loaded %d tasks", len(s.tasks))
	return s, nil
}

// commit persists next and publishes it. Caller holds s.mu.
func (s *Store) commit(next *Record) {
	next.UpdatedAt = s.now()
	if err := s.saveRow(next); err != nil {
		log.Printf("[store] error saving task %s: %v", next.ID, err)
	}
	s.tasks[next.ID] = next
	s.notify(next)
}

// Create inserts a pending task and returns its id.
func (s *Store) Create(url, outputPath, format string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(url, outputPath, format)
}

func (s *Store) create(url, outputPath, format string) string {
	r := &Record{
		ID:         uuid.NewString(),
		URL:        url,
		OutputPath: outputPath,
		Format:     format,
		Status:     StatusPending,
	}
	s.commit(r)
	return r.ID
}

// FindOrCreate returns the id of a task with the same url, output path and
// format, creating a pending one if none exists. created is false when an
// existing task was matched.
func (s *Store) FindOrCreate(url, outputPath, format string) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tasks {
		if r.matches(url, outputPath, format) {
			return r.ID, false
		}
	}
	return s.create(url, outputPath, format), true
}

func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Update applies u if the transition guard allows it and reports whether it
// did. A rejected update is a normal outcome, not an error.
func (s *Store) Update(id string, u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(id, u)
}

// Finish applies the last update of a run and drops the task's cancel
// request in the same step. A request made after Finish belongs to the next
// run and is kept.
func (s *Store) Finish(id string, u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
	return s.update(id, u)
}

// update is Update without locking. Caller holds s.mu.
func (s *Store) update(id string, u Update) bool {
	cur, ok := s.tasks[id]
	if !ok || !CanTransition(cur.Status, u.Status) {
		return false
	}

	next := cur.clone()
	next.Status = u.Status
	if u.Result != nil {
		next.Result = u.Result
	}
	if u.Error != nil {
		next.Error = u.Error
	}
	if u.Progress != nil {
		next.Progress = u.Progress
	}
	s.commit(next)
	return true
}

// Delete removes the task and reports whether it existed. A pending cancel
// flag is left for the orchestration still running, which clears it.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	if err := s.deleteRow(id); err != nil {
		log.Printf("[store] error deleting task %s: %v", id, err)
	}
	for ch := range s.watchers[id] {
		close(ch)
	}
	delete(s.watchers, id)
	return true
}

// Restart resets the task to pending with no result, error or progress and
// drops any cancel request. Callers must make sure the task is not running.
func (s *Store) Restart(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	next := cur.clone()
	next.Status = StatusPending
	next.Result = nil
	next.Error = nil
	next.Progress = nil
	delete(s.cancels, id)
	s.commit(next)
	return next.clone(), true
}

// List returns a snapshot of all tasks in no particular order.
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.tasks))
	for _, r := range s.tasks {
		out = append(out, r.clone())
	}
	return out
}

// RequestCancel flags a known, non-terminal task for cancellation. It
// returns false for unknown or terminal tasks and when a request is already
// pending.
func (s *Store) RequestCancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[id]
	if !ok || r.Status.IsTerminal() {
		return false
	}
	if _, pending := s.cancels[id]; pending {
		return false
	}
	s.cancels[id] = struct{}{}
	return true
}

func (s *Store) IsCancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cancels[id]
	return ok
}

func (s *Store) ClearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

// RecoverInterrupted fails tasks that a previous process left running.
// Their orchestration is gone, so only a restart can resume them.
func (s *Store) RecoverInterrupted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := "interrupted by server restart"
	n := 0
	for _, r := range s.tasks {
		if !r.Status.IsRunning() {
			continue
		}
		next := r.clone()
		next.Status = StatusFailed
		next.Error = &msg
		s.commit(next)
		n++
	}
	return n
}

// Subscribe delivers the latest record after each mutation of task id. Only
// the newest record is buffered. The channel is closed when the task is
// deleted or cancel is called.
func (s *Store) Subscribe(id string) (<-chan *Record, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return nil, func() {}, false
	}
	ch := make(chan *Record, 1)
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[chan *Record]struct{})
	}
	s.watchers[id][ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id][ch]; ok {
			delete(s.watchers[id], ch)
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
			close(ch)
		}
	}
	return ch, cancel, true
}

// notify hands r to the task's watchers, replacing any unread record.
// Caller holds s.mu.
func (s *Store) notify(r *Record) {
	for ch := range s.watchers[r.ID] {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r.clone():
		default:
		}
	}
}
