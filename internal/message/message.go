// Package message defines the persisted shape of an assistant response:
// a Message made of ordered Blocks, and the Store contract used to save them.
package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Message.
type Status string

const (
	StatusPending     Status = "pending"
	StatusStreaming   Status = "streaming"
	StatusProcessing  Status = "processing"
	StatusSuccess     Status = "success"
	StatusInterrupted Status = "interrupted" // user abort; content is kept
	StatusError       Status = "error"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusInterrupted || s == StatusError
}

// BlockType identifies the kind of content a Block holds.
type BlockType string

const (
	BlockMainText    BlockType = "main_text"
	BlockReasoning   BlockType = "reasoning"
	BlockTool        BlockType = "tool"
	BlockPlaceholder BlockType = "placeholder"
	BlockError       BlockType = "error"
)

// BlockStatus is the lifecycle state of a Block.
type BlockStatus string

const (
	BlockPending    BlockStatus = "pending"
	BlockStreaming  BlockStatus = "streaming"
	BlockProcessing BlockStatus = "processing"
	BlockSuccess    BlockStatus = "success"
	BlockPaused     BlockStatus = "paused"
	BlockFailed     BlockStatus = "error"
)

// Open reports whether the block may still receive content.
func (s BlockStatus) Open() bool {
	return s == BlockPending || s == BlockStreaming || s == BlockProcessing
}

// ErrorInfo is the user-facing description of a failure.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// ToolInfo records one tool invocation on a Tool Block.
type ToolInfo struct {
	CallID             string          `json:"call_id"`
	Name               string          `json:"name"`
	ServerID           string          `json:"server_id,omitempty"`
	Arguments          json.RawMessage `json:"arguments,omitempty"`
	Result             string          `json:"result,omitempty"`
	IsCompletionSignal bool            `json:"is_completion_signal,omitempty"`
}

// Message is one assistant response.
type Message struct {
	ID             string
	ConversationID string
	Status         Status
	BlockIDs       []string
	Error          *ErrorInfo
	StopReason     string // set when the loop stopped on a safety limit
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Block is an independently updatable fragment of a Message.
type Block struct {
	ID        string
	MessageID string
	Type      BlockType
	Status    BlockStatus
	Content   string
	Tool      *ToolInfo
	Error     *ErrorInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewID returns a fresh identifier for messages and blocks.
func NewID() string {
	return uuid.NewString()
}

// New creates a pending message in a conversation.
func New(conversationID string) *Message {
	now := time.Now()
	return &Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewBlock creates a pending block attached to a message.
func NewBlock(messageID string, typ BlockType) *Block {
	now := time.Now()
	return &Block{
		ID:        NewID(),
		MessageID: messageID,
		Type:      typ,
		Status:    BlockPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	if b.Tool != nil {
		tool := *b.Tool
		tool.Arguments = append(json.RawMessage(nil), b.Tool.Arguments...)
		c.Tool = &tool
	}
	if b.Error != nil {
		e := *b.Error
		c.Error = &e
	}
	return &c
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.BlockIDs = append([]string(nil), m.BlockIDs...)
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	return &c
}

// Store persists blocks as they change and messages when they finish.
// Implementations must be safe for concurrent use.
type Store interface {
	UpsertBlock(ctx context.Context, b *Block) error
	SealMessage(ctx context.Context, m *Message) error
}
