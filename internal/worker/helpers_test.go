package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/store"
)

// MockJobStore wraps a MemoryJobStore and lets tests override individual calls.
type MockJobStore struct {
	*store.MemoryJobStore
	UpsertFn func(ctx context.Context, record *domain.JobRecord) error
	GetFn    func(ctx context.Context, id string) (*domain.JobRecord, error)

	mu      sync.Mutex
	history []domain.JobRecord
}

func NewMockJobStore() *MockJobStore {
	return &MockJobStore{MemoryJobStore: store.NewMemoryJobStore()}
}

func (m *MockJobStore) Upsert(ctx context.Context, record *domain.JobRecord) error {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(ctx, record); err != nil {
			return err
		}
	}
	if err := m.MemoryJobStore.Upsert(ctx, record); err != nil {
		return err
	}
	m.mu.Lock()
	m.history = append(m.history, *record)
	m.mu.Unlock()
	return nil
}

func (m *MockJobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	return m.MemoryJobStore.Get(ctx, id)
}

// History returns every successful write in order.
func (m *MockJobStore) History() []domain.JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobRecord(nil), m.history...)
}

// recordingHandler is a slog.Handler that keeps every record for assertions.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// messages returns the messages logged at level.
func (h *recordingHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range *h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender remembers every message it was asked to send.
type recordingSender struct {
	mu    sync.Mutex
	err   error
	sent  []sentMessage
	block chan struct{}
	calls chan struct{}
}

type sentMessage struct {
	to, subject, body string
}

func (s *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	if s.calls != nil {
		s.calls <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (s *recordingSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func testTask(id string) domain.NotificationTask {
	return domain.NotificationTask{
		TrackingID: id,
		ClientID:   "c1",
		Recipient:  "a@x.com",
		Message:    "hello",
	}
}

func errStale() error {
	return store.ErrStaleAttempt
}
