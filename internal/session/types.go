package session

import (
	"time"

	"github.com/samsaffron/chatcore/internal/message"
)

// ListOptions filters ListMessages.
type ListOptions struct {
	ConversationID string // empty lists every conversation
	Status         message.Status
	Limit          int
}

// Summary is a lightweight view of a stored message for listings.
type Summary struct {
	ID             string
	ConversationID string
	Status         message.Status
	StopReason     string
	BlockCount     int
	Preview        string // first main text block, truncated
	UpdatedAt      time.Time
}

// SearchResult is a block matching a full-text query.
type SearchResult struct {
	MessageID      string
	ConversationID string
	BlockID        string
	BlockType      message.BlockType
	Snippet        string
	UpdatedAt      time.Time
}

const previewLen = 80

func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-3]) + "..."
}
