package chunk

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samsaffron/chatcore/internal/message"
)

type pendingWrite struct {
	block *message.Block
	seq   uint64
}

// Throttle coalesces block writes for one message. Intermediate updates are
// written at most once per interval; Flush writes immediately. A write that
// fails is logged and retried on the next tick with the newest content.
type Throttle struct {
	store    message.Store
	limiter  *rate.Limiter
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingWrite
	seq     uint64
	timer   *time.Timer
	ctx     context.Context
	closed  bool

	// writeMu serializes store writes; written holds the newest sequence
	// persisted per block so a late timer flush never overwrites newer content.
	writeMu sync.Mutex
	written map[string]uint64
}

// NewThrottle creates a throttle writing to store. An interval <= 0 writes
// every update immediately.
func NewThrottle(store message.Store, interval time.Duration, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		store:    store,
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		logger:   logger,
		pending:  make(map[string]pendingWrite),
		written:  make(map[string]uint64),
	}
}

// Update schedules a throttled write of b.
func (t *Throttle) Update(ctx context.Context, b *message.Block) {
	t.mu.Lock()
	if t.ctx == nil {
		t.ctx = context.WithoutCancel(ctx)
	}
	t.seq++
	t.pending[b.ID] = pendingWrite{block: b.Clone(), seq: t.seq}
	if t.limiter.Allow() {
		batch := t.takeLocked()
		t.mu.Unlock()
		t.write(t.ctx, batch)
		return
	}
	t.armLocked()
	t.mu.Unlock()
}

// Flush writes b now, superseding any pending update for it. A failed
// write is queued again and retried like a throttled one.
func (t *Throttle) Flush(ctx context.Context, b *message.Block) error {
	t.mu.Lock()
	if t.ctx == nil {
		t.ctx = context.WithoutCancel(ctx)
	}
	t.seq++
	seq := t.seq
	delete(t.pending, b.ID)
	t.mu.Unlock()

	clone := b.Clone()
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.store.UpsertBlock(ctx, clone); err != nil {
		t.requeue(pendingWrite{block: clone, seq: seq})
		return err
	}
	t.written[b.ID] = seq
	return nil
}

// closeAttempts bounds how often Close retries writes that keep failing.
const closeAttempts = 3

// Close writes everything still pending and stops the timer. Writes that
// fail are retried a few times before being given up.
func (t *Throttle) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	for attempt := 0; attempt < closeAttempts; attempt++ {
		t.mu.Lock()
		batch := t.takeLocked()
		t.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		t.write(ctx, batch)
	}
	if n := t.Pending(); n > 0 {
		t.logger.Error("block writes lost after retries", "blocks", n)
	}
}

// Pending returns the number of block updates not yet persisted.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Throttle) armLocked() {
	if t.timer != nil || t.closed {
		return
	}
	delay := t.interval
	if delay <= 0 {
		delay = time.Millisecond
	}
	t.timer = time.AfterFunc(delay, t.onTimer)
}

func (t *Throttle) onTimer() {
	t.mu.Lock()
	t.timer = nil
	t.limiter.Allow()
	batch := t.takeLocked()
	ctx := t.ctx
	t.mu.Unlock()
	t.write(ctx, batch)
}

func (t *Throttle) takeLocked() []pendingWrite {
	if len(t.pending) == 0 {
		return nil
	}
	batch := make([]pendingWrite, 0, len(t.pending))
	for _, p := range t.pending {
		batch = append(batch, p)
	}
	t.pending = make(map[string]pendingWrite)
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	return batch
}

func (t *Throttle) write(ctx context.Context, batch []pendingWrite) {
	if len(batch) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for _, p := range batch {
		if p.seq <= t.written[p.block.ID] {
			continue
		}
		if err := t.store.UpsertBlock(ctx, p.block); err != nil {
			t.logger.Warn("block write failed, will retry", "block", p.block.ID, "error", err)
			t.requeue(p)
			continue
		}
		t.written[p.block.ID] = p.seq
	}
}

func (t *Throttle) requeue(p pendingWrite) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pending[p.block.ID]; ok && cur.seq > p.seq {
		return
	}
	t.pending[p.block.ID] = p
	t.armLocked()
}
