package testutil

import (
	"context"

	"github.com/samsaffron/chatcore/internal/message"
)

// RecordingStore is a MemoryStore that also journals every write as
// "upsert <type> <status>" and "seal <status>".
type RecordingStore struct {
	*message.MemoryStore
	Journal *Journal
}

func NewRecordingStore(j *Journal) *RecordingStore {
	return &RecordingStore{MemoryStore: message.NewMemoryStore(), Journal: j}
}

func (s *RecordingStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	s.Journal.Add("upsert %s %s", b.Type, b.Status)
	return s.MemoryStore.UpsertBlock(ctx, b)
}

func (s *RecordingStore) SealMessage(ctx context.Context, m *message.Message) error {
	s.Journal.Add("seal %s", m.Status)
	return s.MemoryStore.SealMessage(ctx, m)
}
