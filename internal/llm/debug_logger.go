package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger records model requests and stream events as JSONL, one file
// per conversation.
type DebugLogger struct {
	conversationID string
	mu             sync.Mutex
	file           *os.File
	writer         *bufio.Writer
	closeOnce      sync.Once
	closed         bool
}

type debugLogEntry struct {
	Timestamp      string `json:"timestamp"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"` // "session_start", "request" or "event"
}

type debugRequestEntry struct {
	debugLogEntry
	Invocation int              `json:"invocation"`
	Provider   string           `json:"provider"`
	Request    debugRequestData `json:"request"`
}

type debugRequestData struct {
	Model           string         `json:"model,omitempty"`
	Messages        []debugMessage `json:"messages"`
	Tools           []string       `json:"tools,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Temperature     float32        `json:"temperature,omitempty"`
}

type debugMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []debugPart
}

type debugPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

type debugEventEntry struct {
	debugLogEntry
	Invocation int    `json:"invocation"`
	EventType  string `json:"event_type"`
	Data       any    `json:"data,omitempty"`
}

type debugSessionStartEntry struct {
	debugLogEntry
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
}

// debugLogRetention is how long old log files are kept.
const debugLogRetention = 7 * 24 * time.Hour

// NewDebugLogger opens baseDir/<conversationID>.jsonl for appending and
// removes log files older than a week.
func NewDebugLogger(baseDir, conversationID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(baseDir, debugLogRetention)

	filename := filepath.Join(baseDir, conversationID+".jsonl")
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{
		conversationID: conversationID,
		file:           file,
		writer:         bufio.NewWriter(file),
	}, nil
}

// Path returns the log file path.
func (l *DebugLogger) Path() string {
	return l.file.Name()
}

func (l *DebugLogger) header(typ string) debugLogEntry {
	return debugLogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		ConversationID: l.conversationID,
		Type:           typ,
	}
}

// LogSessionStart records the CLI invocation.
func (l *DebugLogger) LogSessionStart(command string, args []string, cwd string) {
	if l == nil {
		return
	}
	l.writeEntry(debugSessionStartEntry{
		debugLogEntry: l.header("session_start"),
		Command:       command,
		Args:          args,
		Cwd:           cwd,
	})
	l.Flush()
}

// LogRequest records the request of one model invocation.
func (l *DebugLogger) LogRequest(invocation int, provider string, req Request) {
	if l == nil {
		return
	}
	data := debugRequestData{
		Model:           req.Model,
		Messages:        convertMessages(req.Messages),
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	for _, t := range req.Tools {
		data.Tools = append(data.Tools, t.Name)
	}
	l.writeEntry(debugRequestEntry{
		debugLogEntry: l.header("request"),
		Invocation:    invocation,
		Provider:      provider,
		Request:       data,
	})
	l.Flush()
}

// LogEvent records one stream event. Text deltas carry cumulative text, so
// only their length is logged; the complete events carry the full text.
func (l *DebugLogger) LogEvent(invocation int, event Event) {
	if l == nil {
		return
	}
	entry := debugEventEntry{
		debugLogEntry: l.header("event"),
		Invocation:    invocation,
		EventType:     string(event.Type),
	}

	switch event.Type {
	case EventTextDelta, EventReasoningDelta:
		entry.Data = map[string]int{"text_len": len(event.Text)}
	case EventTextComplete, EventReasoningComplete:
		entry.Data = map[string]string{"text": event.Text}
	case EventToolInProgress, EventToolCall:
		if event.Tool != nil {
			entry.Data = event.Tool
		}
	case EventUsage:
		if event.Use != nil {
			entry.Data = map[string]int{
				"input_tokens":        event.Use.InputTokens,
				"output_tokens":       event.Use.OutputTokens,
				"cached_input_tokens": event.Use.CachedInputTokens,
			}
		}
	case EventError:
		if event.Err != nil {
			entry.Data = map[string]string{"error": event.Err.Error()}
		}
	case EventRetry:
		entry.Data = map[string]any{
			"attempt":      event.RetryAttempt,
			"max_attempts": event.RetryMaxAttempts,
			"wait_secs":    event.RetryWaitSecs,
		}
	}

	l.writeEntry(entry)

	// Flush once per response rather than on every delta
	if event.Type == EventDone || event.Type == EventError {
		l.Flush()
	}
}

// Close flushes and closes the log file. It is safe to call more than once.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// writeEntry appends one JSON line without flushing.
func (l *DebugLogger) writeEntry(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush writes buffered entries to disk.
func (l *DebugLogger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

func convertMessages(messages []Message) []debugMessage {
	result := make([]debugMessage, len(messages))
	for i, msg := range messages {
		result[i] = debugMessage{Role: string(msg.Role), Content: convertParts(msg.Parts)}
	}
	return result
}

// convertParts collapses a single text part to a plain string.
func convertParts(parts []Part) any {
	if len(parts) == 1 && parts[0].Type == PartText {
		return parts[0].Text
	}
	result := make([]debugPart, len(parts))
	for i, part := range parts {
		result[i] = debugPart{
			Type:       string(part.Type),
			Text:       part.Text,
			ToolCall:   part.ToolCall,
			ToolResult: part.ToolResult,
		}
	}
	return result
}

// CleanupOldLogs removes .jsonl files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}

// DebugLogProvider records every request and event of the wrapped provider.
type DebugLogProvider struct {
	inner  Provider
	logger *DebugLogger

	mu          sync.Mutex
	invocations int
}

// WithDebugLog wraps p so its traffic is written to logger. A nil logger
// returns p unchanged.
func WithDebugLog(p Provider, logger *DebugLogger) Provider {
	if logger == nil {
		return p
	}
	return &DebugLogProvider{inner: p, logger: logger}
}

func (d *DebugLogProvider) Name() string {
	return d.inner.Name()
}

func (d *DebugLogProvider) Capabilities() Capabilities {
	return d.inner.Capabilities()
}

func (d *DebugLogProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	d.mu.Lock()
	d.invocations++
	n := d.invocations
	d.mu.Unlock()

	d.logger.LogRequest(n, d.inner.Name(), req)
	stream, err := d.inner.Stream(ctx, req)
	if err != nil {
		d.logger.LogEvent(n, Event{Type: EventError, Err: err})
		return nil, err
	}
	return &debugLogStream{inner: stream, logger: d.logger, invocation: n}, nil
}

type debugLogStream struct {
	inner      Stream
	logger     *DebugLogger
	invocation int
}

func (s *debugLogStream) Recv() (Event, error) {
	ev, err := s.inner.Recv()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.LogEvent(s.invocation, Event{Type: EventError, Err: err})
		}
		return ev, err
	}
	s.logger.LogEvent(s.invocation, ev)
	return ev, nil
}

func (s *debugLogStream) Close() error {
	return s.inner.Close()
}
