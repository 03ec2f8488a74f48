package chunk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/chatcore/internal/message"
)

type flakyStore struct {
	mu       sync.Mutex
	failures int
	writes   []string
	statuses []message.BlockStatus
}

func (s *flakyStore) UpsertBlock(ctx context.Context, b *message.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("disk busy")
	}
	s.writes = append(s.writes, b.Content)
	s.statuses = append(s.statuses, b.Status)
	return nil
}

func (s *flakyStore) fail(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *flakyStore) lastStatus() message.BlockStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *flakyStore) SealMessage(ctx context.Context, m *message.Message) error { return nil }

func (s *flakyStore) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func TestThrottleCoalescesUpdates(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	th := NewThrottle(store, time.Hour, nil)
	b := message.NewBlock("m", message.BlockMainText)

	for _, s := range []string{"a", "ab", "abc", "abcd"} {
		b.Content = s
		th.Update(ctx, b)
	}
	// first update goes through, the rest wait for the interval
	if got := store.contents(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("writes before close = %v", got)
	}
	if th.Pending() != 1 {
		t.Fatalf("pending = %d", th.Pending())
	}

	th.Close(ctx)
	got := store.contents()
	if len(got) != 2 || got[1] != "abcd" {
		t.Fatalf("writes after close = %v", got)
	}
}

func TestThrottleFlushSupersedesPending(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	th := NewThrottle(store, time.Hour, nil)
	b := message.NewBlock("m", message.BlockMainText)

	b.Content = "a"
	th.Update(ctx, b)
	b.Content = "ab"
	th.Update(ctx, b)
	b.Content = "abc"
	if err := th.Flush(ctx, b); err != nil {
		t.Fatal(err)
	}
	th.Close(ctx)

	got := store.contents()
	if len(got) != 2 || got[1] != "abc" {
		t.Fatalf("writes = %v", got)
	}
}

func TestThrottleRetriesFailedWrite(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{failures: 1}
	th := NewThrottle(store, 5*time.Millisecond, nil)
	b := message.NewBlock("m", message.BlockMainText)
	b.Content = "hello"
	th.Update(ctx, b)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := store.contents(); len(got) == 1 && got[0] == "hello" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("write was not retried, writes = %v", store.contents())
}

func TestThrottleFailedFlushIsRetriedOnClose(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{failures: 1}
	th := NewThrottle(store, time.Hour, nil)
	b := message.NewBlock("m", message.BlockMainText)
	b.Content = "done"
	b.Status = message.BlockSuccess

	if err := th.Flush(ctx, b); err == nil {
		t.Fatal("expected the first write to fail")
	}
	if th.Pending() != 1 {
		t.Fatalf("pending = %d, want the failed write queued", th.Pending())
	}
	th.Close(ctx)

	if got := store.contents(); len(got) != 1 || got[0] != "done" {
		t.Fatalf("writes = %v", got)
	}
	if th.Pending() != 0 {
		t.Errorf("pending after close = %d", th.Pending())
	}
}

func TestThrottleCloseGivesUpAfterRetries(t *testing.T) {
	store := &flakyStore{failures: 100}
	th := NewThrottle(store, time.Hour, nil)
	b := message.NewBlock("m", message.BlockMainText)
	b.Content = "x"
	th.Update(context.Background(), b)
	th.Close(context.Background())
	if len(store.contents()) != 0 {
		t.Fatal("unexpected write")
	}
}

func TestProcessorSealedStatusLandsAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	msg := message.New("c")
	p := NewProcessor(msg, NewThrottle(store, time.Hour, nil), nil, nil)

	p.SetText(ctx, "Hello world")
	store.fail(1)
	p.SealText(ctx)
	p.SealOpen(ctx, message.BlockSuccess)

	if got := store.lastStatus(); got != message.BlockSuccess {
		t.Fatalf("stored status = %q, want %q", got, message.BlockSuccess)
	}
	if got := store.contents(); got[len(got)-1] != "Hello world" {
		t.Errorf("writes = %v", got)
	}
}
