package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// DefaultConfirmTimeout is how long a confirmation waits before it is
// rejected automatically.
const DefaultConfirmTimeout = 60 * time.Second

// ErrGateClosed is returned by Request after Close.
var ErrGateClosed = errors.New("confirmation gate closed")

// Decision is how a confirmation request was resolved.
type Decision int

const (
	DecisionRejected Decision = iota
	DecisionApproved
	DecisionExpired
	DecisionCancelled
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionExpired:
		return "expired"
	case DecisionCancelled:
		return "cancelled"
	default:
		return "rejected"
	}
}

// Approved reports whether the call may proceed.
func (d Decision) Approved() bool { return d == DecisionApproved }

// Request is a pending confirmation shown to the user.
type Request struct {
	ID         string
	ServerName string
	ToolName   string
	Arguments  json.RawMessage
	Risk       RiskLevel
	Summary    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// NotificationType identifies gate notifications.
type NotificationType string

const (
	NotificationRequired NotificationType = "confirmation_required"
	NotificationExpired  NotificationType = "confirmation_expired"
)

// Notification tells the confirmation UI that a request appeared or expired.
type Notification struct {
	Type    NotificationType
	Request Request // for NotificationRequired
	ID      string
}

type pendingRequest struct {
	req  Request
	done chan Decision // buffered; written once by whoever removes the entry
}

// Gate holds confirmation requests until the user answers or they time out.
// Create one per chat request; it is safe for concurrent use.
type Gate struct {
	rules   *Rules
	timeout time.Duration
	logger  *slog.Logger
	notify  chan Notification

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	yolo    bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTimeout sets the confirmation timeout.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used for the audit trail.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithBuffer sets the notification channel capacity.
func WithBuffer(n int) GateOption {
	return func(g *Gate) {
		if n >= 0 {
			g.notify = make(chan Notification, n)
		}
	}
}

// NewGate creates a gate for the tools matched by rules.
func NewGate(rules *Rules, opts ...GateOption) *Gate {
	g := &Gate{
		rules:   rules,
		timeout: DefaultConfirmTimeout,
		logger:  slog.Default(),
		notify:  make(chan Notification, 1),
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetYoloMode enables or disables yolo mode and prints a warning when enabled.
// Yolo mode approves every request without asking.
func (g *Gate) SetYoloMode(enabled bool) {
	g.mu.Lock()
	g.yolo = enabled
	g.mu.Unlock()
	if enabled && term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "⚠️  WARNING: Yolo mode enabled - all tool calls will be approved without prompting.\n")
	}
}

// Rules returns the gate's rule set.
func (g *Gate) Rules() *Rules {
	return g.rules
}

// NeedsConfirmation reports whether calls to toolName must be confirmed.
func (g *Gate) NeedsConfirmation(toolName string) bool {
	return g.rules.NeedsConfirmation(toolName)
}

// Notifications returns the channel the confirmation UI reads from.
func (g *Gate) Notifications() <-chan Notification {
	return g.notify
}

// Request asks for confirmation of a call and blocks until it is approved,
// rejected, expires, or ctx ends. Tools without a rule are approved
// immediately.
func (g *Gate) Request(ctx context.Context, serverName, toolName string, args json.RawMessage) (Decision, error) {
	rule, ok := g.rules.Lookup(toolName)
	if !ok {
		return DecisionApproved, nil
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return DecisionRejected, ErrGateClosed
	}
	if g.yolo {
		g.mu.Unlock()
		g.logger.Info("confirmation auto-approved", "tool", toolName, "server", serverName, "risk", rule.Risk, "decision", "yolo")
		return DecisionApproved, nil
	}
	now := time.Now()
	p := &pendingRequest{
		req: Request{
			ID:         uuid.NewString(),
			ServerName: serverName,
			ToolName:   toolName,
			Arguments:  args,
			Risk:       rule.Risk,
			Summary:    rule.Describe(toolName, args),
			CreatedAt:  now,
			ExpiresAt:  now.Add(g.timeout),
		},
		done: make(chan Decision, 1),
	}
	g.pending[p.req.ID] = p
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	d := g.wait(ctx, p, timer)
	level := slog.LevelInfo
	if !d.Approved() {
		level = slog.LevelWarn
	}
	g.logger.Log(ctx, level, "confirmation resolved",
		"id", p.req.ID, "tool", toolName, "server", serverName, "risk", rule.Risk, "decision", d.String())
	return d, nil
}

func (g *Gate) wait(ctx context.Context, p *pendingRequest, timer *time.Timer) Decision {
	// Deliver the notification; this blocks while the UI is behind.
	select {
	case g.notify <- Notification{Type: NotificationRequired, Request: p.req, ID: p.req.ID}:
	case d := <-p.done:
		return d
	case <-timer.C:
		// the UI never saw the request, so there is nothing to retract
		return g.expire(ctx, p, false)
	case <-ctx.Done():
		g.resolve(p.req.ID, DecisionCancelled)
		return <-p.done
	}

	select {
	case d := <-p.done:
		return d
	case <-timer.C:
		return g.expire(ctx, p, true)
	case <-ctx.Done():
		g.resolve(p.req.ID, DecisionCancelled)
		return <-p.done
	}
}

// expire settles p as expired. When the UI was shown the request, the
// expiry notification is delivered like the request was, blocking until
// the UI reads it or ctx ends.
func (g *Gate) expire(ctx context.Context, p *pendingRequest, notified bool) Decision {
	if g.resolve(p.req.ID, DecisionExpired) && notified {
		select {
		case g.notify <- Notification{Type: NotificationExpired, ID: p.req.ID}:
		case <-ctx.Done():
			g.logger.Warn("expiry notification not delivered", "id", p.req.ID, "error", ctx.Err())
		}
	}
	return <-p.done
}

// resolve settles a pending request. Only the first call for an id wins.
func (g *Gate) resolve(id string, d Decision) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- d
	return true
}

// Respond answers a pending request. It returns false if the request is
// unknown or was already resolved.
func (g *Gate) Respond(id string, approved bool) bool {
	d := DecisionRejected
	if approved {
		d = DecisionApproved
	}
	return g.resolve(id, d)
}

// RejectAll rejects every pending request and returns how many there were.
func (g *Gate) RejectAll() int {
	g.mu.Lock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	n := 0
	for _, id := range ids {
		if g.resolve(id, DecisionRejected) {
			n++
		}
	}
	return n
}

// Pending returns the unresolved requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close rejects everything pending and refuses new requests.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.RejectAll()
}
