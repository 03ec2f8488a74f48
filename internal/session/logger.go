package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samsaffron/chatcore/internal/message"
)

// LoggingStore wraps a Store and logs write errors instead of letting them
// disappear. Errors are still returned to the caller; each operation warns
// only once so a broken database does not flood the log.
type LoggingStore struct {
	Store
	logger *slog.Logger
	mu     sync.Mutex
	warned map[string]bool // Rate-limit warnings by operation type
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, logger *slog.Logger) *LoggingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

// logOnce logs a warning only once per operation type to avoid spamming.
func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("message store write failed", "op", op, "error", err)
}

// UpsertBlock wraps Store.UpsertBlock with error logging.
func (s *LoggingStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	err := s.Store.UpsertBlock(ctx, b)
	s.logOnce("UpsertBlock", err)
	return err
}

// SealMessage wraps Store.SealMessage with error logging.
func (s *LoggingStore) SealMessage(ctx context.Context, m *message.Message) error {
	err := s.Store.SealMessage(ctx, m)
	s.logOnce("SealMessage", err)
	return err
}
