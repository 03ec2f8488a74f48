package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/samsaffron/chatcore/internal/llm"
)

func weatherServer() *Local {
	l := NewLocal(ServerInfo{ID: "weather", Active: true, MultiStep: true})
	l.Handle(llm.ToolSpec{Name: "get_weather"}, func(ctx context.Context, args json.RawMessage) (CallResult, error) {
		var in struct{ City string }
		if err := json.Unmarshal(args, &in); err != nil {
			return CallResult{}, err
		}
		return CallResult{Content: "sunny in " + in.City}, nil
	})
	l.Handle(llm.ToolSpec{Name: "slow"}, func(ctx context.Context, args json.RawMessage) (CallResult, error) {
		<-ctx.Done()
		return CallResult{}, ctx.Err()
	})
	return l
}

func TestLocalCallTool(t *testing.T) {
	l := weatherServer()
	res, err := l.CallTool(context.Background(), "weather", "get_weather", json.RawMessage(`{"city":"Oslo"}`), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "sunny in Oslo" || res.IsError {
		t.Fatalf("res = %+v", res)
	}
}

func TestLocalErrors(t *testing.T) {
	l := weatherServer()
	ctx := context.Background()
	if _, err := l.CallTool(ctx, "other", "get_weather", nil, 0); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := l.CallTool(ctx, "weather", "nope", nil, 0); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := l.CallTool(ctx, "weather", "slow", nil, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestRouter(t *testing.T) {
	other := NewLocal(ServerInfo{ID: "docs", Active: true})
	other.Handle(llm.ToolSpec{Name: "search"}, func(ctx context.Context, args json.RawMessage) (CallResult, error) {
		return CallResult{Content: "no results", IsError: true}, nil
	})
	r := NewRouter(weatherServer(), other)

	servers := r.Servers()
	if len(servers) != 2 || servers[0].ID != "weather" || servers[1].ID != "docs" {
		t.Fatalf("servers = %+v", servers)
	}
	specs, err := r.ListTools(context.Background(), "weather")
	if err != nil || len(specs) != 2 || specs[0].Name != "get_weather" {
		t.Fatalf("specs = %+v, err = %v", specs, err)
	}
	res, err := r.CallTool(context.Background(), "docs", "search", nil, time.Second)
	if err != nil || !res.IsError {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if _, err := r.ListTools(context.Background(), "missing"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestAgenticMode(t *testing.T) {
	if AgenticMode(nil) {
		t.Error("nil gateway is not agentic")
	}
	if !AgenticMode(weatherServer()) {
		t.Error("multi-step server should enable agentic mode")
	}
	if AgenticMode(NewLocal(ServerInfo{ID: "x", Active: true})) {
		t.Error("single-step server should not enable agentic mode")
	}
	if AgenticMode(NewLocal(ServerInfo{ID: "x", MultiStep: true})) {
		t.Error("inactive server should not count")
	}
}
