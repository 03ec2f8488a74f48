package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
	"github.com/samsaffron/chatcore/internal/message"
	"github.com/samsaffron/chatcore/internal/testutil"
	"github.com/samsaffron/chatcore/internal/tools"
)

type loopFixture struct {
	loop     *Loop
	provider *testutil.ScriptedProvider
	gw       *testutil.RecordingGateway
	store    *testutil.RecordingStore
	journal  *testutil.Journal
	msg      *message.Message
}

// newLoopFixture wires a loop over a scripted provider. A nil gw runs
// without tools (non-agentic).
func newLoopFixture(t *testing.T, provider *testutil.ScriptedProvider, gw *testutil.RecordingGateway, gate *tools.Gate, opts Options) *loopFixture {
	t.Helper()
	journal := &testutil.Journal{}
	store := testutil.NewRecordingStore(journal)
	reg := tools.NewRegistry(nil)

	deps := Deps{Provider: provider, Registry: reg, Gate: gate, Store: store}
	if gw != nil {
		gw.Journal = journal
		if err := reg.LoadGateway(context.Background(), gw); err != nil {
			t.Fatal(err)
		}
		deps.Gateway = gw
	}
	msg := message.New("conv")
	return &loopFixture{
		loop:     NewLoop(deps, msg, opts),
		provider: provider,
		gw:       gw,
		store:    store,
		journal:  journal,
		msg:      msg,
	}
}

func weatherGateway() *testutil.RecordingGateway {
	gw := testutil.NewRecordingGateway(nil, weatherSpec, deleteKBSpec)
	gw.Handler = func(ctx context.Context, name string, args json.RawMessage) (gateway.CallResult, error) {
		return gateway.CallResult{Content: "sunny"}, nil
	}
	return gw
}

func completion(result string) llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"result": result})
	return llm.ToolCall{ID: "call_done", Name: tools.AttemptCompletionToolName, Arguments: args}
}

func weatherCall(id, city string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: "get_weather", Arguments: json.RawMessage(`{"city":"` + city + `"}`)}
}

func userPrompt() []llm.Message {
	return []llm.Message{llm.UserText("What is the weather in Paris?")}
}

func TestLoopHelloWorld(t *testing.T) {
	provider := testutil.NewScriptedProvider(testutil.TextTurn("Hel", "lo", " world"))
	f := newLoopFixture(t, provider, nil, nil, Options{})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "Hello world" {
		t.Fatalf("result = %+v", res)
	}
	if res.Message.Status != message.StatusSuccess {
		t.Errorf("message status = %s", res.Message.Status)
	}

	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Content != "Hello world" || blocks[0].Status != message.BlockSuccess {
		t.Errorf("block = %+v", blocks[0])
	}
	if f.journal.Index("seal success") < 0 {
		t.Errorf("message not sealed: %v", f.journal.Entries())
	}
}

func TestLoopMistakeLimit(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		testutil.TextTurn("Let me think"),
		testutil.TextTurn("Still thinking"),
		testutil.TextTurn("Almost there"),
		testutil.TextTurn("never requested"),
	)
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{MistakeLimit: 3})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateMistakeLimitReached {
		t.Fatalf("state = %s", res.State)
	}
	if n := provider.Calls(); n != 3 {
		t.Fatalf("provider called %d times, want 3", n)
	}
	if res.Text != "Almost there" {
		t.Errorf("text = %q", res.Text)
	}
	if !strings.HasPrefix(res.Message.StopReason, "stopped:") {
		t.Errorf("stop reason = %q", res.Message.StopReason)
	}
	if res.Message.Status != message.StatusSuccess {
		t.Errorf("status = %s", res.Message.Status)
	}

	reqs := provider.Requests()
	second := reqs[1].Messages
	reminder := second[len(second)-1]
	if reminder.Role != llm.RoleUser || !strings.Contains(reminder.Parts[0].Text, tools.AttemptCompletionToolName) {
		t.Errorf("expected reminder, got %+v", reminder)
	}
	if len(reqs[0].Tools) == 0 {
		t.Error("function mode must send tool specs")
	}
}

func TestLoopToolCallResetsMistakeCounter(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		testutil.TextTurn("hmm"),
		testutil.TextTurn("hmm"),
		testutil.ToolTurn("checking", weatherCall("c1", "Paris")),
		testutil.TextTurn("hmm"),
		testutil.ToolTurn("", completion("Sunny in Paris")),
	)
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{MistakeLimit: 3})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "Sunny in Paris" {
		t.Fatalf("result = %+v", res)
	}
	if res.Iterations != 5 || res.ToolCalls != 2 {
		t.Errorf("iterations = %d, tool calls = %d", res.Iterations, res.ToolCalls)
	}
}

func TestLoopFeedsToolResultsBack(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		testutil.ToolTurn("Checking", weatherCall("c1", "Paris")),
		testutil.ToolTurn("", completion("It is sunny")),
	)
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}

	msgs := provider.Requests()[1].Messages
	if len(msgs) < 3 {
		t.Fatalf("history = %+v", msgs)
	}
	assistant, result := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if assistant.Role != llm.RoleAssistant || len(assistant.Parts) != 2 || assistant.Parts[1].ToolCall.ID != "c1" {
		t.Errorf("assistant = %+v", assistant)
	}
	if result.Role != llm.RoleTool || result.Parts[0].ToolResult.Content != "sunny" || result.Parts[0].ToolResult.ID != "c1" {
		t.Errorf("tool result = %+v", result)
	}

	blocks := f.store.Blocks(f.msg.ID)
	var types []string
	for _, b := range blocks {
		types = append(types, string(b.Type))
	}
	if got := strings.Join(types, ","); got != "main_text,tool,tool" {
		t.Errorf("block types = %s", got)
	}
}

func TestLoopCompletionTakesPrecedence(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		testutil.ToolTurn("Wrapping up", weatherCall("c1", "Paris"), completion("Done"), weatherCall("c2", "Oslo")),
		testutil.TextTurn("never requested"),
	)
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "Done" {
		t.Fatalf("result = %+v", res)
	}
	if n := provider.Calls(); n != 1 {
		t.Errorf("provider called %d times", n)
	}
	// every call of the turn is still executed and recorded
	if n := len(f.gw.Calls()); n != 2 {
		t.Errorf("gateway calls = %d", n)
	}
}

func TestLoopCancelBeforeDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := testutil.NewScriptedProvider(
		testutil.ToolTurn("", weatherCall("c1", "Paris"), weatherCall("c2", "Oslo")),
	)
	gw := weatherGateway()
	gw.Handler = func(ctx context.Context, name string, args json.RawMessage) (gateway.CallResult, error) {
		cancel()
		return gateway.CallResult{Content: "sunny"}, nil
	}
	f := newLoopFixture(t, provider, gw, nil, Options{})

	res := f.loop.Run(ctx, userPrompt())
	if res.State != StateCancelled {
		t.Fatalf("state = %s", res.State)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("gateway calls = %d, want 1", n)
	}
	if res.Message.Status != message.StatusInterrupted {
		t.Errorf("status = %s", res.Message.Status)
	}
	if f.journal.Index("seal interrupted") < 0 {
		t.Errorf("interrupted message not persisted: %v", f.journal.Entries())
	}
}

func TestLoopCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := testutil.NewScriptedProvider(testutil.TextTurn("never"))
	f := newLoopFixture(t, provider, nil, nil, Options{})

	res := f.loop.Run(ctx, userPrompt())
	if res.State != StateCancelled {
		t.Fatalf("state = %s", res.State)
	}
	if n := provider.Calls(); n != 0 {
		t.Errorf("provider called %d times after cancellation", n)
	}
}

func TestLoopCancelMidStreamKeepsPartialText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turn := testutil.Turn{Events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "Partial"},
		{Type: llm.EventTextDelta, Text: "Partial answer"},
		{Type: llm.EventTextDelta, Text: "Partial answer that is never seen"},
	}}
	store := message.NewMemoryStore()
	msg := message.New("conv")
	loop := NewLoop(Deps{
		Provider: testutil.NewScriptedProvider(turn),
		Store:    store,
		Observer: func(b *message.Block) {
			if b.Content == "Partial answer" {
				cancel()
			}
		},
	}, msg, Options{})

	res := loop.Run(ctx, userPrompt())
	if res.State != StateCancelled {
		t.Fatalf("state = %s", res.State)
	}
	if res.Message.Status != message.StatusInterrupted || res.Message.Error != nil {
		t.Errorf("message = %+v", res.Message)
	}
	blocks := store.Blocks(msg.ID)
	if len(blocks) != 1 || blocks[0].Content != "Partial answer" || blocks[0].Status != message.BlockPaused {
		t.Fatalf("blocks = %+v", blocks)
	}
}

func TestLoopCancelRejectsPendingConfirmations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := tools.NewRules()
	rules.RegisterConfirmable("delete_knowledge_base", tools.RiskHigh, nil)
	gate := tools.NewGate(rules)

	provider := testutil.NewScriptedProvider(
		testutil.ToolTurn("", llm.ToolCall{ID: "c1", Name: "delete_knowledge_base", Arguments: json.RawMessage(`{}`)}),
	)
	f := newLoopFixture(t, provider, weatherGateway(), gate, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n := <-gate.Notifications()
		if n.Type != tools.NotificationRequired || n.Request.Risk != tools.RiskHigh {
			t.Errorf("notification = %+v", n)
		}
		cancel()
	}()

	res := f.loop.Run(ctx, userPrompt())
	wg.Wait()
	if res.State != StateCancelled {
		t.Fatalf("state = %s", res.State)
	}
	if n := len(f.gw.Calls()); n != 0 {
		t.Errorf("gateway calls = %d", n)
	}
	if len(gate.Pending()) != 0 {
		t.Error("pending confirmations left behind")
	}
	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) != 1 || blocks[0].Error == nil || blocks[0].Error.Type != string(tools.ErrCancelled) {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestLoopPromptModeExtraction(t *testing.T) {
	first := testutil.Turn{Events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "checking weather"},
		{Type: llm.EventTextDelta, Text: `checking weather<tool>get_weather{"city":"Par`},
		{Type: llm.EventTextDelta, Text: `checking weather<tool>get_weather{"city":"Paris"}</tool>`},
		{Type: llm.EventTextComplete, Text: `checking weather<tool>get_weather{"city":"Paris"}</tool>`},
	}}
	second := testutil.TextTurn(`<tool>attempt_completion{"result":"Sunny in Paris"}</tool>`)
	provider := testutil.NewScriptedProvider(first, second)
	provider.Caps.ToolCalls = false
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{ToolMode: config.ToolModePrompt})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "Sunny in Paris" {
		t.Fatalf("result = %+v", res)
	}

	calls := f.gw.Calls()
	if len(calls) != 1 || string(calls[0].Args) != `{"city":"Paris"}` {
		t.Fatalf("gateway calls = %+v", calls)
	}
	sealed := f.journal.Index("upsert main_text success")
	dispatched := f.journal.Index("call get_weather")
	if sealed < 0 || dispatched < 0 || sealed > dispatched {
		t.Errorf("text block must be sealed before dispatch: %v", f.journal.Entries())
	}

	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) < 2 || blocks[0].Content != "checking weather" || blocks[1].Type != message.BlockTool {
		t.Fatalf("blocks = %+v", blocks)
	}

	reqs := provider.Requests()
	if len(reqs[0].Tools) != 0 {
		t.Error("prompt mode must not send native tool specs")
	}
	if sys := reqs[0].Messages[0]; sys.Role != llm.RoleSystem || !strings.Contains(sys.Parts[0].Text, "get_weather") {
		t.Errorf("system prompt = %+v", sys)
	}
	feedback := reqs[1].Messages[len(reqs[1].Messages)-1]
	if feedback.Role != llm.RoleUser || !strings.Contains(feedback.Parts[0].Text, "<tool_use_result>") {
		t.Errorf("feedback = %+v", feedback)
	}
}

func TestLoopRetryRestartsPromptModeText(t *testing.T) {
	retried := testutil.Turn{Events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "Sure"},
		{Type: llm.EventRetry, RetryAttempt: 1, RetryMaxAttempts: 3},
		{Type: llm.EventTextDelta, Text: "Certainly, here"},
		{Type: llm.EventTextComplete, Text: "Certainly, here it is"},
		{Type: llm.EventDone},
	}}
	provider := testutil.NewScriptedProvider(retried)
	provider.Caps.ToolCalls = false
	f := newLoopFixture(t, provider, nil, nil, Options{ToolMode: config.ToolModePrompt})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "Certainly, here it is" {
		t.Fatalf("result = %+v", res)
	}
	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %+v", blocks)
	}
	if blocks[0].Content != "Certainly, here it is" || blocks[0].Status != message.BlockSuccess {
		t.Errorf("block = %+v", blocks[0])
	}
}

func TestLoopRetryDiscardsPartialToolCalls(t *testing.T) {
	retried := testutil.Turn{Events: []llm.Event{
		{Type: llm.EventTextComplete, Text: `<tool>get_weather{"city":"Rome"}</tool>`},
		{Type: llm.EventRetry, RetryAttempt: 1, RetryMaxAttempts: 3},
		{Type: llm.EventTextComplete, Text: `<tool>attempt_completion{"result":"done"}</tool>`},
		{Type: llm.EventDone},
	}}
	provider := testutil.NewScriptedProvider(retried)
	provider.Caps.ToolCalls = false
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{ToolMode: config.ToolModePrompt})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted || res.Text != "done" {
		t.Fatalf("result = %+v", res)
	}
	if calls := f.gw.Calls(); len(calls) != 0 {
		t.Errorf("abandoned attempt's call was dispatched: %+v", calls)
	}
}

func TestLoopProviderErrorFails(t *testing.T) {
	turn := testutil.Turn{
		Events: []llm.Event{{Type: llm.EventTextDelta, Text: "partial"}},
		Err:    errors.New("upstream exploded"),
	}
	f := newLoopFixture(t, testutil.NewScriptedProvider(turn), nil, nil, Options{})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Message.Status != message.StatusError || res.Message.Error == nil {
		t.Fatalf("message = %+v", res.Message)
	}
	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].Content != "partial" || blocks[0].Status != message.BlockFailed {
		t.Errorf("partial text = %+v", blocks[0])
	}
	if blocks[1].Type != message.BlockError || !strings.Contains(blocks[1].Content, "upstream exploded") {
		t.Errorf("error block = %+v", blocks[1])
	}
}

func TestLoopMaxIterations(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		testutil.ToolTurn("", weatherCall("c1", "Paris")),
		testutil.ToolTurn("", weatherCall("c2", "Paris")),
		testutil.ToolTurn("", weatherCall("c3", "Paris")),
	)
	f := newLoopFixture(t, provider, weatherGateway(), nil, Options{MaxIterations: 2})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateMaxIterationsReached {
		t.Fatalf("state = %s", res.State)
	}
	if n := provider.Calls(); n != 2 {
		t.Errorf("provider calls = %d", n)
	}
	if !strings.Contains(res.Message.StopReason, "2") {
		t.Errorf("stop reason = %q", res.Message.StopReason)
	}
}

func TestLoopRunsOnce(t *testing.T) {
	f := newLoopFixture(t, testutil.NewScriptedProvider(testutil.TextTurn("hi")), nil, nil, Options{})
	if res := f.loop.Run(context.Background(), userPrompt()); res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	if f.loop.State() != StateCompleted {
		t.Errorf("State() = %s", f.loop.State())
	}
	if res := f.loop.Run(context.Background(), userPrompt()); res.Err == nil || res.State != StateCompleted {
		t.Errorf("second Run = %s, %v; want an error and the first state", res.State, res.Err)
	}
}

func TestLoopThrottledWritesLandBeforeSeal(t *testing.T) {
	provider := testutil.NewScriptedProvider(testutil.TextTurn("a", "b", "c", "d"))
	f := newLoopFixture(t, provider, nil, nil, Options{Throttle: time.Hour})

	res := f.loop.Run(context.Background(), userPrompt())
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	blocks := f.store.Blocks(f.msg.ID)
	if len(blocks) != 1 || blocks[0].Content != "abcd" {
		t.Fatalf("blocks = %+v", blocks)
	}
	// first update passes the limiter, the rest coalesce into the final seal
	var upserts int
	for _, e := range f.journal.Entries() {
		if strings.HasPrefix(e, "upsert") {
			upserts++
		}
	}
	if upserts > 2 {
		t.Errorf("expected coalesced writes, got %d: %v", upserts, f.journal.Entries())
	}
}
