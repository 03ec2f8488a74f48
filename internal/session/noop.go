package session

import (
	"context"

	"github.com/samsaffron/chatcore/internal/message"
)

// NoopStore is a no-op implementation of Store used when storage is disabled.
// It silently discards all writes and returns empty results for reads.
type NoopStore struct{}

func (s *NoopStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	return nil
}

func (s *NoopStore) SealMessage(ctx context.Context, m *message.Message) error {
	return nil
}

func (s *NoopStore) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	return nil, nil
}

func (s *NoopStore) Blocks(ctx context.Context, messageID string) ([]*message.Block, error) {
	return nil, nil
}

func (s *NoopStore) ListMessages(ctx context.Context, opts ListOptions) ([]Summary, error) {
	return nil, nil
}

func (s *NoopStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (s *NoopStore) Close() error {
	return nil
}
