package llm

import (
	"context"
	"io"
	"strings"
	"sync"
)

// eventStream adapts a producer goroutine into a Stream.
type eventStream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc
	once   sync.Once
	err    error
	done   bool
}

// newEventStream runs produce in a goroutine and exposes the events it sends.
// The stream ends with io.EOF when produce returns nil, or with its error.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		s.errCh <- produce(ctx, s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, s.finalErr()
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		s.err = <-s.errCh
		return Event{}, s.finalErr()
	}
	return event, nil
}

func (s *eventStream) finalErr() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		// drain so the producer can exit
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// send delivers an event unless ctx is done.
func send(ctx context.Context, events chan<- Event, event Event) error {
	select {
	case events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accumulator turns native SDK deltas into cumulative text and reasoning
// events. One accumulator covers one provider invocation.
type accumulator struct {
	text          strings.Builder
	reasoning     strings.Builder
	reasoningDone bool
}

func (a *accumulator) Text(ctx context.Context, events chan<- Event, delta string) error {
	if delta == "" {
		return nil
	}
	a.text.WriteString(delta)
	return send(ctx, events, Event{Type: EventTextDelta, Text: a.text.String()})
}

func (a *accumulator) Reasoning(ctx context.Context, events chan<- Event, delta string) error {
	if delta == "" {
		return nil
	}
	a.reasoning.WriteString(delta)
	return send(ctx, events, Event{Type: EventReasoningDelta, Text: a.reasoning.String()})
}

// CompleteReasoning emits the final reasoning once, if any was streamed.
func (a *accumulator) CompleteReasoning(ctx context.Context, events chan<- Event) error {
	if a.reasoning.Len() == 0 || a.reasoningDone {
		return nil
	}
	a.reasoningDone = true
	return send(ctx, events, Event{Type: EventReasoningComplete, Text: a.reasoning.String()})
}

// Complete emits the completion events for whatever content was streamed.
func (a *accumulator) Complete(ctx context.Context, events chan<- Event) error {
	if err := a.CompleteReasoning(ctx, events); err != nil {
		return err
	}
	if a.text.Len() == 0 {
		return nil
	}
	return send(ctx, events, Event{Type: EventTextComplete, Text: a.text.String()})
}
