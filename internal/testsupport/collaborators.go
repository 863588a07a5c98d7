package testsupport

import (
	"context"
	"fmt"
	"sync"

	"github.com/trobanga/sisyphus/internal/lib"
	"github.com/trobanga/sisyphus/internal/services"
)

// Subtask is a ticket created through the fake ticketing service
type Subtask struct {
	ID     string
	Parent string
	Title  string
}

// Ticketing is an in-memory issue tracker issuing SC-100, SC-101, ...
type Ticketing struct {
	mu sync.Mutex

	Log       *CallLog
	next      int
	subtasks  []Subtask
	updates   map[string][]map[string]any
	comments  map[string][]string
	CreateErr error
}

// NewTicketing creates a tracker whose first ticket is SC-100
func NewTicketing() *Ticketing {
	return &Ticketing{
		Log:      &CallLog{},
		next:     100,
		updates:  make(map[string][]map[string]any),
		comments: make(map[string][]string),
	}
}

// CreateSubtask issues the next ticket id
func (t *Ticketing) CreateSubtask(_ context.Context, parent string, title string) (string, error) {
	t.Log.Record("CreateSubtask")
	if t.CreateErr != nil {
		return "", t.CreateErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := fmt.Sprintf("SC-%d", t.next)
	t.next++
	t.subtasks = append(t.subtasks, Subtask{ID: id, Parent: parent, Title: title})
	return id, nil
}

// UpdateTicket records the fields written to a ticket
func (t *Ticketing) UpdateTicket(_ context.Context, id string, fields map[string]any) error {
	t.Log.Record("UpdateTicket")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates[id] = append(t.updates[id], fields)
	return nil
}

// AddComment records a comment
func (t *Ticketing) AddComment(_ context.Context, id string, comment string) error {
	t.Log.Record("AddComment")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.comments[id] = append(t.comments[id], comment)
	return nil
}

// Subtasks returns the created tickets
func (t *Ticketing) Subtasks() []Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Subtask(nil), t.subtasks...)
}

// Updates returns the field updates of a ticket
func (t *Ticketing) Updates(id string) []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.updates[id]...)
}

// Comments returns the comments of a ticket
func (t *Ticketing) Comments(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.comments[id]...)
}

// CopyCall is one storage copy request
type CopyCall struct {
	Tag  string
	From string
	To   string
}

// Storage records copies and optionally fails them
type Storage struct {
	mu sync.Mutex

	Log    *CallLog
	copies []CopyCall
	Err    error
	files  map[string][]byte
}

// NewStorage creates a storage fake
func NewStorage() *Storage {
	return &Storage{Log: &CallLog{}, files: make(map[string][]byte)}
}

// Copy records the request
func (s *Storage) Copy(_ context.Context, tag string, from string, to string) error {
	s.Log.Record("Copy")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies = append(s.copies, CopyCall{Tag: tag, From: from, To: to})
	return s.Err
}

// Copies returns the recorded copy requests
func (s *Storage) Copies() []CopyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CopyCall(nil), s.copies...)
}

// PutFile makes a file readable through ReadFile
func (s *Storage) PutFile(storage string, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[storage+":"+key] = data
}

// ReadFile returns a file stored with PutFile
func (s *Storage) ReadFile(_ context.Context, storage string, key string) ([]byte, error) {
	s.Log.Record("ReadFile")
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[storage+":"+key]
	if !ok {
		return nil, lib.ErrRecordNotFound("file on storage "+storage, key)
	}
	return data, nil
}

// Launcher records pipeline invocations
type Launcher struct {
	mu sync.Mutex

	Log      *CallLog
	launches []services.PipelineInvocation
	// OnLaunch replaces the default success; use it to fail or block
	OnLaunch func(ctx context.Context, inv services.PipelineInvocation) error
}

// NewLauncher creates a launcher fake that always succeeds
func NewLauncher() *Launcher {
	return &Launcher{Log: &CallLog{}}
}

// Launch records the invocation
func (l *Launcher) Launch(ctx context.Context, inv services.PipelineInvocation) error {
	l.Log.Record("Launch")
	l.mu.Lock()
	l.launches = append(l.launches, inv)
	hook := l.OnLaunch
	l.mu.Unlock()
	if hook != nil {
		return hook(ctx, inv)
	}
	return nil
}

// Launches returns the recorded invocations
func (l *Launcher) Launches() []services.PipelineInvocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]services.PipelineInvocation(nil), l.launches...)
}
