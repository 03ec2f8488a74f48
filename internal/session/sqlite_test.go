package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samsaffron/chatcore/internal/message"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := NewSQLiteStore(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreBlockRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := message.New("conv-1")
	text := message.NewBlock(msg.ID, message.BlockMainText)
	text.Status = message.BlockStreaming
	text.Content = "Hel"
	if err := store.UpsertBlock(ctx, text); err != nil {
		t.Fatalf("failed to insert block: %v", err)
	}

	text.Status = message.BlockSuccess
	text.Content = "Hello world"
	if err := store.UpsertBlock(ctx, text); err != nil {
		t.Fatalf("failed to update block: %v", err)
	}

	tool := message.NewBlock(msg.ID, message.BlockTool)
	tool.Status = message.BlockFailed
	tool.Tool = &message.ToolInfo{
		CallID:    "call_1",
		Name:      "get_weather",
		ServerID:  "weather",
		Arguments: json.RawMessage(`{"city":"Oslo"}`),
	}
	tool.Error = &message.ErrorInfo{Type: "GATEWAY_ERROR", Message: "connection refused"}
	if err := store.UpsertBlock(ctx, tool); err != nil {
		t.Fatalf("failed to insert tool block: %v", err)
	}

	// Unsealed messages fall back to insertion order
	blocks, err := store.Blocks(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to load blocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Content != "Hello world" || blocks[0].Status != message.BlockSuccess {
		t.Errorf("text block = %+v", blocks[0])
	}
	if blocks[1].Tool == nil || blocks[1].Tool.Name != "get_weather" {
		t.Fatalf("tool info not restored: %+v", blocks[1].Tool)
	}
	if string(blocks[1].Tool.Arguments) != `{"city":"Oslo"}` {
		t.Errorf("arguments = %s", blocks[1].Tool.Arguments)
	}
	if blocks[1].Error == nil || blocks[1].Error.Type != "GATEWAY_ERROR" {
		t.Errorf("error info not restored: %+v", blocks[1].Error)
	}
}

func TestSQLiteStoreSealMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := message.New("conv-1")
	first := message.NewBlock(msg.ID, message.BlockMainText)
	first.Content = "checking weather"
	second := message.NewBlock(msg.ID, message.BlockReasoning)
	second.Content = "thinking"
	for _, b := range []*message.Block{first, second} {
		if err := store.UpsertBlock(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	msg.BlockIDs = []string{second.ID, first.ID}
	msg.Status = message.StatusSuccess
	msg.StopReason = "stopped: mistake limit reached"
	if err := store.SealMessage(ctx, msg); err != nil {
		t.Fatalf("failed to seal message: %v", err)
	}

	loaded, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected message to exist")
	}
	if loaded.Status != message.StatusSuccess || loaded.StopReason != msg.StopReason {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.BlockIDs) != 2 || loaded.BlockIDs[0] != second.ID {
		t.Errorf("block ids = %v", loaded.BlockIDs)
	}

	blocks, err := store.Blocks(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 || blocks[0].ID != second.ID {
		t.Errorf("expected sealed order, got %v", blocks)
	}

	// Sealing again replaces the status
	msg.Status = message.StatusError
	msg.Error = &message.ErrorInfo{Message: "provider failed"}
	if err := store.SealMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != message.StatusError || loaded.Error == nil || loaded.Error.Message != "provider failed" {
		t.Errorf("reseal = %+v", loaded)
	}

	missing, err := store.GetMessage(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing message = %v, %v", missing, err)
	}
}

func TestSQLiteStoreListAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		conv, text string
		status     message.Status
	}{
		{"conv-a", "It is sunny in Oslo", message.StatusSuccess},
		{"conv-a", "Deleted the knowledge base", message.StatusInterrupted},
		{"conv-b", "Rain expected in Bergen", message.StatusSuccess},
	} {
		msg := message.New(tc.conv)
		b := message.NewBlock(msg.ID, message.BlockMainText)
		b.Content = tc.text
		if err := store.UpsertBlock(ctx, b); err != nil {
			t.Fatal(err)
		}
		msg.BlockIDs = []string{b.ID}
		msg.Status = tc.status
		if err := store.SealMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListMessages(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(all))
	}
	for _, s := range all {
		if s.BlockCount != 1 || s.Preview == "" {
			t.Errorf("summary = %+v", s)
		}
	}

	convA, err := store.ListMessages(ctx, ListOptions{ConversationID: "conv-a", Status: message.StatusSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(convA) != 1 || convA[0].Preview != "It is sunny in Oslo" {
		t.Errorf("filtered = %+v", convA)
	}

	limited, err := store.ListMessages(ctx, ListOptions{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Errorf("limited = %d, %v", len(limited), err)
	}

	hits, err := store.Search(ctx, "Bergen", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ConversationID != "conv-b" || hits[0].BlockType != message.BlockMainText {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSQLiteStoreCustomPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "custom", "messages.db")

	store, err := NewSQLiteStore(Config{
		Enabled: true,
		Path:    dbPath,
	})
	if err != nil {
		t.Fatalf("failed to create sqlite store with custom path: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file at %q: %v", dbPath, err)
	}
}

func TestSQLiteStoreMigratesStopReasonColumn(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "messages-v1.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open seed database: %v", err)
	}
	seedSQL := `
CREATE TABLE messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    status TEXT NOT NULL,
    block_ids TEXT NOT NULL DEFAULT '[]',
    error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE blocks (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    tool TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
INSERT INTO blocks (id, message_id, type, status, content) VALUES ('b1', 'm1', 'main_text', 'success', 'legacy forecast');
CREATE TABLE schema_version (version INTEGER NOT NULL);
INSERT INTO schema_version(version) VALUES (1);
`
	if _, err := db.Exec(seedSQL); err != nil {
		db.Close()
		t.Fatalf("failed to seed v1 schema: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close seed database: %v", err)
	}

	store, err := NewSQLiteStore(Config{Enabled: true, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open migrated sqlite store: %v", err)
	}
	defer store.Close()

	rows, err := store.db.Query(`PRAGMA table_info(messages)`)
	if err != nil {
		t.Fatalf("failed to inspect messages table: %v", err)
	}
	defer rows.Close()

	var hasStopReason bool
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("failed to scan table info: %v", err)
		}
		if name == "stop_reason" {
			hasStopReason = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("failed iterating table info: %v", err)
	}
	if !hasStopReason {
		t.Fatal("expected stop_reason column after migration")
	}

	// Existing blocks are searchable after the index rebuild
	hits, err := store.Search(context.Background(), "legacy", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].BlockID != "b1" {
		t.Errorf("hits = %+v", hits)
	}
}

type failingStore struct {
	NoopStore
	calls int
}

func (f *failingStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	f.calls++
	return errors.New("disk full")
}

func TestLoggingStoreReturnsErrors(t *testing.T) {
	inner := &failingStore{}
	store := NewLoggingStore(inner, nil)
	b := message.NewBlock("m1", message.BlockMainText)

	for i := 0; i < 3; i++ {
		if err := store.UpsertBlock(context.Background(), b); err == nil {
			t.Fatal("expected error to be returned")
		}
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d", inner.calls)
	}
	if !store.warned["UpsertBlock"] || len(store.warned) != 1 {
		t.Errorf("warned = %v", store.warned)
	}
	if err := store.SealMessage(context.Background(), message.New("c")); err != nil {
		t.Errorf("seal through noop: %v", err)
	}
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("expected NoopStore, got %T", store)
	}
}
