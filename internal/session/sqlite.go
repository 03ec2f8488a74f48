package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samsaffron/chatcore/internal/message"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Schema for the messages database.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    status TEXT NOT NULL,
    block_ids TEXT NOT NULL DEFAULT '[]',
    error TEXT,
    stop_reason TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blocks (
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

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_blocks_message_id ON blocks(message_id);

-- Full-text search on block content
CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
    content,
    content='blocks',
    content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS blocks_ai AFTER INSERT ON blocks BEGIN
    INSERT INTO blocks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS blocks_ad AFTER DELETE ON blocks BEGIN
    INSERT INTO blocks_fts(blocks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS blocks_au AFTER UPDATE ON blocks BEGIN
    INSERT INTO blocks_fts(blocks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO blocks_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`

// NewSQLiteStore creates a new SQLite-based message store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema and run migrations
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}

	// Run cleanup if configured
	if err := store.cleanup(); err != nil {
		// Log but don't fail
		slog.Warn("message cleanup failed", "error", err)
	}

	return store, nil
}

// schemaVersion is the current schema version.
// - Fresh databases get the full schema from `schema` const and start at this version
// - Existing databases run migrations to reach this version
// Increment when adding new migrations.
const schemaVersion = 2

// migration represents a schema migration.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations defines schema migrations for upgrading existing databases.
// The base `schema` const always contains the FULL current schema.
// Migrations are only needed for databases created before a schema change.
var migrations = []migration{
	{
		version:     1,
		description: "add error column to messages",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`ALTER TABLE messages ADD COLUMN error TEXT`)
			if err != nil && !isDuplicateColumnError(err) {
				return err
			}
			return nil
		},
	},
	{
		version:     2,
		description: "add stop_reason column and index existing blocks for search",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`ALTER TABLE messages ADD COLUMN stop_reason TEXT`)
			if err != nil && !isDuplicateColumnError(err) {
				return err
			}
			// blocks_fts is created empty by the base schema on old databases
			if _, err := db.Exec(`INSERT INTO blocks_fts(blocks_fts) VALUES ('rebuild')`); err != nil {
				return fmt.Errorf("rebuild search index: %w", err)
			}
			return nil
		},
	},
}

// initSchema initializes the database schema and runs any pending migrations.
// Optimized for the common case: schema already current = single SELECT query.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

// initSchemaFull handles schema creation and migrations.
// Only called when schema needs initialization or migration.
func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	// Check for a pre-versioning database before the base schema creates tables
	var tableCount int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='messages'
	`).Scan(&tableCount); err != nil {
		return fmt.Errorf("check messages table: %w", err)
	}

	// Create base schema (uses IF NOT EXISTS, safe to run multiple times)
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// versionErr is non-nil if schema_version table doesn't exist or has no rows
	if versionErr != nil && (versionErr == sql.ErrNoRows || strings.Contains(versionErr.Error(), "no such table")) {
		if tableCount > 0 {
			// Pre-migration DB - start at version 0, will run all migrations
			currentVersion = 0
		} else {
			// Fresh DB - schema already has all columns, start at latest
			currentVersion = schemaVersion
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if an error is due to a column already existing.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// cleanup removes old messages and their blocks based on configuration.
func (s *SQLiteStore) cleanup() error {
	if s.cfg.MaxAgeDays <= 0 {
		return nil
	}
	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE message_id IN (
			SELECT id FROM messages WHERE updated_at < ?
		)`, cutoff); err != nil {
		return fmt.Errorf("delete old blocks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE updated_at < ?", cutoff); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}

// UpsertBlock inserts a block or replaces its mutable fields.
func (s *SQLiteStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	tool, err := jsonColumn(b.Tool)
	if err != nil {
		return fmt.Errorf("encode tool info: %w", err)
	}
	blockErr, err := jsonColumn(b.Error)
	if err != nil {
		return fmt.Errorf("encode block error: %w", err)
	}
	created, updated := timestamps(b.CreatedAt, b.UpdatedAt)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blocks (id, message_id, type, status, content, tool, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			content = excluded.content,
			tool = excluded.tool,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		b.ID, b.MessageID, string(b.Type), string(b.Status), b.Content, tool, blockErr, created, updated)
	if err != nil {
		return fmt.Errorf("upsert block %s: %w", b.ID, err)
	}
	return nil
}

// SealMessage records the final state of a message.
func (s *SQLiteStore) SealMessage(ctx context.Context, m *message.Message) error {
	blockIDs := m.BlockIDs
	if blockIDs == nil {
		blockIDs = []string{}
	}
	ids, err := json.Marshal(blockIDs)
	if err != nil {
		return fmt.Errorf("encode block ids: %w", err)
	}
	msgErr, err := jsonColumn(m.Error)
	if err != nil {
		return fmt.Errorf("encode message error: %w", err)
	}
	created, updated := timestamps(m.CreatedAt, m.UpdatedAt)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, status, block_ids, error, stop_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			block_ids = excluded.block_ids,
			error = excluded.error,
			stop_reason = excluded.stop_reason,
			updated_at = excluded.updated_at`,
		m.ID, m.ConversationID, string(m.Status), string(ids), msgErr, nullString(m.StopReason), created, updated)
	if err != nil {
		return fmt.Errorf("seal message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage returns a sealed message, or nil if it does not exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, status, block_ids, error, stop_reason, created_at, updated_at
		FROM messages WHERE id = ?`, id)

	var m message.Message
	var status, ids string
	var msgErr, stopReason sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &status, &ids, &msgErr, &stopReason, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Status = message.Status(status)
	if err := json.Unmarshal([]byte(ids), &m.BlockIDs); err != nil {
		return nil, fmt.Errorf("decode block ids: %w", err)
	}
	if msgErr.Valid {
		m.Error = &message.ErrorInfo{}
		if err := json.Unmarshal([]byte(msgErr.String), m.Error); err != nil {
			return nil, fmt.Errorf("decode message error: %w", err)
		}
	}
	m.StopReason = stopReason.String
	return &m, nil
}

// Blocks returns the blocks of a message. Sealed messages use their recorded
// block order; blocks not listed there follow in insertion order.
func (s *SQLiteStore) Blocks(ctx context.Context, messageID string) ([]*message.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, status, content, tool, error, created_at, updated_at
		FROM blocks WHERE message_id = ?
		ORDER BY rowid ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*message.Block
	for rows.Next() {
		var b message.Block
		var typ, status string
		var tool, blockErr sql.NullString
		if err := rows.Scan(&b.ID, &b.MessageID, &typ, &status, &b.Content, &tool, &blockErr, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Type = message.BlockType(typ)
		b.Status = message.BlockStatus(status)
		if tool.Valid {
			b.Tool = &message.ToolInfo{}
			if err := json.Unmarshal([]byte(tool.String), b.Tool); err != nil {
				return nil, fmt.Errorf("decode tool info for %s: %w", b.ID, err)
			}
		}
		if blockErr.Valid {
			b.Error = &message.ErrorInfo{}
			if err := json.Unmarshal([]byte(blockErr.String), b.Error); err != nil {
				return nil, fmt.Errorf("decode block error for %s: %w", b.ID, err)
			}
		}
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m, err := s.GetMessage(ctx, messageID)
	if err != nil || m == nil {
		return blocks, err
	}
	return orderBlocks(blocks, m.BlockIDs), nil
}

func orderBlocks(blocks []*message.Block, order []string) []*message.Block {
	byID := make(map[string]*message.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	out := make([]*message.Block, 0, len(blocks))
	for _, id := range order {
		if b, ok := byID[id]; ok {
			out = append(out, b)
			delete(byID, id)
		}
	}
	for _, b := range blocks {
		if _, ok := byID[b.ID]; ok {
			out = append(out, b)
		}
	}
	return out
}

// ListMessages returns message summaries, most recently updated first.
func (s *SQLiteStore) ListMessages(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `
		SELECT m.id, m.conversation_id, m.status, m.stop_reason, json_array_length(m.block_ids),
		       (SELECT b.content FROM blocks b
		        WHERE b.message_id = m.id AND b.type = 'main_text'
		        ORDER BY b.rowid LIMIT 1),
		       m.updated_at
		FROM messages m`
	var conditions []string
	var args []any
	if opts.ConversationID != "" {
		conditions = append(conditions, "m.conversation_id = ?")
		args = append(args, opts.ConversationID)
	}
	if opts.Status != "" {
		conditions = append(conditions, "m.status = ?")
		args = append(args, string(opts.Status))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var status string
		var stopReason, preview sql.NullString
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &status, &stopReason, &sum.BlockCount, &preview, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message summary: %w", err)
		}
		sum.Status = message.Status(status)
		sum.StopReason = stopReason.String
		sum.Preview = truncatePreview(preview.String)
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search finds blocks containing the query text using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.message_id, COALESCE(m.conversation_id, ''), b.id, b.type,
		       snippet(blocks_fts, 0, '**', '**', '...', 16), b.updated_at
		FROM blocks_fts f
		JOIN blocks b ON b.rowid = f.rowid
		LEFT JOIN messages m ON m.id = b.message_id
		WHERE blocks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search blocks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var typ string
		if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.BlockID, &typ, &r.Snippet, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.BlockType = message.BlockType(typ)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonColumn encodes an optional struct pointer, storing nil as NULL.
func jsonColumn[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func timestamps(created, updated time.Time) (time.Time, time.Time) {
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	return created, updated
}
