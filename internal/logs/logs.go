// Package logs persists run log lines and fans them out to live subscribers.
package logs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/storage"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
)

// Handler receives entries appended to a run after it subscribed
type Handler func(entry *models.LogEntry)

// AppendRequest describes a log line to append
type AppendRequest struct {
	RunID   string
	TraceID string
	Level   string
	Message string
}

type subscription struct {
	handler Handler
}

// runLock orders appends to one run. refs counts holders and waiters.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// Service appends and lists log entries and manages live subscriptions
type Service struct {
	storage storage.Storage
	logger  *utils.Logger
	now     func() time.Time

	mu   sync.RWMutex
	subs map[string][]*subscription

	locksMu sync.Mutex
	locks   map[string]*runLock
}

// NewService creates a new logs service
func NewService(storage storage.Storage) *Service {
	return &Service{
		storage: storage,
		logger:  utils.Component("logs"),
		now:     func() time.Time { return time.Now().UTC() },
		subs:    make(map[string][]*subscription),
		locks:   make(map[string]*runLock),
	}
}

// AppendLog persists the entry, then delivers it to every subscriber of the
// run in registration order. Appends to the same run are serialized, so
// subscribers see entries in id order. Handlers must not append to the run
// they observe.
func (s *Service) AppendLog(ctx context.Context, req AppendRequest) (*models.LogEntry, error) {
	unlock := s.lockRun(req.RunID)
	defer unlock()

	entry := &models.LogEntry{
		RunID:     req.RunID,
		TraceID:   req.TraceID,
		Level:     req.Level,
		Message:   req.Message,
		CreatedAt: s.now(),
	}

	if err := s.storage.InsertLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append log: %w", err)
	}

	s.publish(entry)
	return entry, nil
}

func (s *Service) lockRun(runID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[runID]
	if !ok {
		l = &runLock{}
		s.locks[runID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, runID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) publish(entry *models.LogEntry) {
	s.mu.RLock()
	subs := make([]*subscription, len(s.subs[entry.RunID]))
	copy(subs, s.subs[entry.RunID])
	s.mu.RUnlock()

	for _, sub := range subs {
		s.deliver(sub, entry)
	}
}

// deliver isolates one subscriber so a panicking handler cannot stop the others.
func (s *Service) deliver(sub *subscription, entry *models.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Log subscriber for run %s panicked: %v", entry.RunID, r)
		}
	}()
	sub.handler(entry)
}

// ListLogs returns all persisted entries for the run in append order
func (s *Service) ListLogs(ctx context.Context, runID string) ([]*models.LogEntry, error) {
	return s.storage.ListLogs(ctx, runID)
}

// Subscribe registers handler for future entries of runID. The returned
// function removes the registration and is safe to call more than once.
func (s *Service) Subscribe(runID string, handler Handler) func() {
	sub := &subscription{handler: handler}

	s.mu.Lock()
	s.subs[runID] = append(s.subs[runID], sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(runID, sub) })
	}
}

func (s *Service) remove(runID string, target *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[runID]
	for i, sub := range subs {
		if sub == target {
			// Copy rather than splice in place; publish may hold the old slice.
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(s.subs, runID)
			} else {
				s.subs[runID] = next
			}
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions for runID
func (s *Service) SubscriberCount(runID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[runID])
}

// ClearSubscriptions drops every registration. Persisted entries are untouched.
func (s *Service) ClearSubscriptions() {
	s.mu.Lock()
	s.subs = make(map[string][]*subscription)
	s.mu.Unlock()
}
