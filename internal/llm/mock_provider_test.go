package llm

import (
	"context"
	"io"
)

type sliceStream struct {
	events []Event
	err    error
	index  int
}

func (s *sliceStream) Recv() (Event, error) {
	if s.index >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event := s.events[s.index]
	s.index++
	return event, nil
}

func (s *sliceStream) Close() error {
	return nil
}

// fakeProvider returns scripted streams; streamErr fails Stream itself.
type fakeProvider struct {
	script    func(call int) ([]Event, error)
	streamErr func(call int) error
	calls     int
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func (p *fakeProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	call := p.calls
	p.calls++
	if p.streamErr != nil {
		if err := p.streamErr(call); err != nil {
			return nil, err
		}
	}
	events, err := p.script(call)
	return &sliceStream{events: events, err: err}, nil
}

func collect(s Stream) ([]Event, error) {
	defer s.Close()
	var out []Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
