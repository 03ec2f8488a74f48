package message

import (
	"context"
	"sync"
)

// MemoryStore keeps messages and blocks in memory. It records every write,
// which makes it useful for tests and for headless runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	blocks   map[string]*Block
	messages map[string]*Message
	writes   []*Block
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[string]*Block),
		messages: make(map[string]*Message),
	}
}

func (s *MemoryStore) UpsertBlock(ctx context.Context, b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := b.Clone()
	s.blocks[b.ID] = c
	s.writes = append(s.writes, c)
	return nil
}

func (s *MemoryStore) SealMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m.Clone()
	return nil
}

// Block returns the latest stored version of a block.
func (s *MemoryStore) Block(id string) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	return b.Clone(), ok
}

// Message returns the sealed message, if any.
func (s *MemoryStore) Message(id string) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m.Clone(), ok
}

// Blocks returns the stored blocks of a sealed message in order.
func (s *MemoryStore) Blocks(messageID string) []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]*Block, 0, len(m.BlockIDs))
	for _, id := range m.BlockIDs {
		if b, ok := s.blocks[id]; ok {
			out = append(out, b.Clone())
		}
	}
	return out
}

// Writes returns every block write in order.
func (s *MemoryStore) Writes() []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Block, len(s.writes))
	copy(out, s.writes)
	return out
}
