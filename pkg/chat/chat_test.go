package chat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/conversation"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

type step func(ctx context.Context, req ai.Request) (conversation.Turn, error)

func reply(text string) step {
	return func(context.Context, ai.Request) (conversation.Turn, error) {
		return conversation.AssistantTurn(text, nil), nil
	}
}

func callTool(text, id, name string, args map[string]any) step {
	return func(context.Context, ai.Request) (conversation.Turn, error) {
		return conversation.AssistantTurn(text, &conversation.ToolCall{ID: id, Name: name, Args: args}), nil
	}
}

type fakeGenerator struct {
	mu       sync.Mutex
	steps    []step
	requests []ai.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req ai.Request) (conversation.Turn, error) {
	g.mu.Lock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if i >= len(g.steps) {
		return conversation.Turn{}, errors.New("script exhausted")
	}
	return g.steps[i](ctx, req)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeInvoker struct {
	mu      sync.Mutex
	funcs   map[string]func(ctx context.Context, req tools.Request) (any, error)
	invoked []tools.Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, req tools.Request) (any, error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, req)
	fn := f.funcs[req.Name]
	f.mu.Unlock()
	if fn == nil {
		return nil, tools.ErrUnknownTool
	}
	return fn(ctx, req)
}

func def(name string) tools.Definition {
	return tools.Definition{Name: name, Description: name + " description"}
}

func toolNames(defs []tools.Definition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func newTestSession(t *testing.T, gen ai.Generator, inv tools.Invoker, mutate func(*Options)) *Session {
	t.Helper()
	opts := Options{
		SystemPrompt:  "be helpful",
		Builtins:      []tools.Definition{def(tools.SearchFunctionName), def("BRAVE_SEARCH__WEB_SEARCH")},
		Generator:     gen,
		Invoker:       inv,
		Auth:          tools.Auth{LinkedAccountOwnerID: "owner-1", AllowedAppsOnly: true},
		MaxIterations: DefaultMaxIterations,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatal(err)
	}
	s, err := e.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func collect(s *Session, ctx context.Context, msg string) ([]Chunk, error) {
	var chunks []Chunk
	for c, err := range s.Stream(ctx, msg) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Options{}); err == nil {
		t.Errorf("want an error without generator and invoker")
	}
	_, err := NewEngine(Options{Generator: &fakeGenerator{}, Invoker: &fakeInvoker{}, MaxIterations: -1})
	if err == nil {
		t.Errorf("want an error for negative max iterations")
	}
}

func TestStreamWithoutToolCall(t *testing.T) {
	gen := &fakeGenerator{steps: []step{reply("Hello!")}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	chunks, err := collect(s, context.Background(), "  hi  ")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Chunk{{Text: "Hello!"}, {Final: true}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if gen.calls() != 1 {
		t.Errorf("want 1 model call, got %d", gen.calls())
	}
	want := []conversation.Turn{conversation.UserTurn("hi"), conversation.AssistantTurn("Hello!", nil)}
	if diff := cmp.Diff(want, s.Transcript()); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if s.State() != StateDone {
		t.Errorf("want done, got %s", s.State())
	}
	req := gen.requests[0]
	if req.SystemPrompt != "be helpful" {
		t.Errorf("system prompt is not passed: %q", req.SystemPrompt)
	}
	if diff := cmp.Diff([]string{tools.SearchFunctionName, "BRAVE_SEARCH__WEB_SEARCH"}, toolNames(req.Tools)); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamSuppressesEmptyText(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("", "c1", "BRAVE_SEARCH__WEB_SEARCH", map[string]any{"query": "weather"}),
		reply("Sunny."),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) {
			return map[string]any{"result": "sunny"}, nil
		},
	}}
	s := newTestSession(t, gen, inv, nil)
	chunks, err := collect(s, context.Background(), "weather?")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Chunk{{Text: "Sunny."}, {Final: true}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamEmptyReply(t *testing.T) {
	gen := &fakeGenerator{steps: []step{reply("")}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	chunks, err := collect(s, context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Chunk{{Final: true}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if n := len(s.Transcript()); n != 1 {
		t.Errorf("want only the user turn, got %d turns", n)
	}
}

func TestStreamToolCallOrder(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("Let me look.", "c1", "BRAVE_SEARCH__WEB_SEARCH", map[string]any{"query": "golang"}),
		reply("Found it."),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) {
			return map[string]any{"hits": 3}, nil
		},
	}}
	s := newTestSession(t, gen, inv, nil)
	chunks, err := collect(s, context.Background(), "search golang")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Chunk{{Text: "Let me look."}, {Text: "Found it."}, {Final: true}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	call := &conversation.ToolCall{ID: "c1", Name: "BRAVE_SEARCH__WEB_SEARCH", Args: map[string]any{"query": "golang"}}
	want := []conversation.Turn{
		conversation.UserTurn("search golang"),
		conversation.AssistantTurn("Let me look.", call),
		conversation.ToolTurn("c1", `{"hits":3}`, false),
		conversation.AssistantTurn("Found it.", nil),
	}
	if diff := cmp.Diff(want, s.Transcript()); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if len(inv.invoked) != 1 {
		t.Fatalf("want 1 invocation, got %d", len(inv.invoked))
	}
	wantReq := tools.Request{
		Name:   "BRAVE_SEARCH__WEB_SEARCH",
		Args:   map[string]any{"query": "golang"},
		Auth:   tools.Auth{LinkedAccountOwnerID: "owner-1", AllowedAppsOnly: true},
		Format: tools.FormatOpenAI,
	}
	if diff := cmp.Diff(wantReq, inv.invoked[0]); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	// The second model call sees the call and its result.
	if got := len(gen.requests[1].Transcript); got != 3 {
		t.Errorf("want 3 turns in the second request, got %d", got)
	}
}

func TestStreamFoldsToolFailure(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("", "c1", "BRAVE_SEARCH__WEB_SEARCH", nil),
		func(_ context.Context, req ai.Request) (conversation.Turn, error) {
			last := req.Transcript[len(req.Transcript)-1]
			if last.Result == nil || !last.Result.IsError {
				return conversation.Turn{}, errors.New("the failure is not visible")
			}
			return conversation.AssistantTurn("Sorry, search is down.", nil), nil
		},
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) {
			return nil, errors.New("quota exceeded")
		},
	}}
	s := newTestSession(t, gen, inv, nil)
	chunks, err := collect(s, context.Background(), "search")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Chunk{{Text: "Sorry, search is down."}, {Final: true}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	result := s.Transcript()[2].Result
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["success"] != false || decoded["error"] != "quota exceeded" {
		t.Errorf("unexpected failure payload %s", result.Content)
	}
}

func TestStreamDiscoversTools(t *testing.T) {
	discovered := []any{
		map[string]any{"type": "function", "function": map[string]any{
			"name":        "DOMINOS__FIND_STORE",
			"description": "Find Domino's stores near an address",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"address": map[string]any{"type": "string"}},
				"required":   []any{"address"},
			},
		}},
		// Already known; must not be duplicated.
		map[string]any{"type": "function", "function": map[string]any{"name": "BRAVE_SEARCH__WEB_SEARCH"}},
	}
	gen := &fakeGenerator{steps: []step{
		callTool("Looking for a pizza tool.", "c1", tools.SearchFunctionName, map[string]any{"intent": "order pizza"}),
		callTool("", "c2", "DOMINOS__FIND_STORE", map[string]any{"address": "1 Main St"}),
		reply("The closest store is on Main St."),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		tools.SearchFunctionName: func(context.Context, tools.Request) (any, error) {
			return discovered, nil
		},
		"DOMINOS__FIND_STORE": func(context.Context, tools.Request) (any, error) {
			return map[string]any{"stores": []any{"Main St"}}, nil
		},
	}}
	s := newTestSession(t, gen, inv, nil)
	chunks, err := collect(s, context.Background(), "order me a pizza")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || !chunks[2].Final {
		t.Errorf("unexpected chunks %+v", chunks)
	}
	if diff := cmp.Diff([]string{tools.SearchFunctionName, "BRAVE_SEARCH__WEB_SEARCH"}, toolNames(gen.requests[0].Tools)); diff != "" {
		t.Errorf("first request tools mismatch (-want +got):\n%s", diff)
	}
	wantNames := []string{tools.SearchFunctionName, "BRAVE_SEARCH__WEB_SEARCH", "DOMINOS__FIND_STORE"}
	for i := 1; i < 3; i++ {
		if diff := cmp.Diff(wantNames, toolNames(gen.requests[i].Tools)); diff != "" {
			t.Errorf("request %d tools mismatch (-want +got):\n%s", i, diff)
		}
	}
	found := gen.requests[1].Tools[2]
	params, err := found.ParametersMap()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{"address"}, params["required"]); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
	if len(inv.invoked) != 2 || inv.invoked[1].Name != "DOMINOS__FIND_STORE" {
		t.Errorf("unexpected invocations %+v", inv.invoked)
	}
}

func TestStreamRepeatedDiscoveryKeepsSet(t *testing.T) {
	discovered := []any{map[string]any{"name": "GMAIL__SEND_EMAIL", "parameters": map[string]any{"type": "object"}}}
	gen := &fakeGenerator{steps: []step{
		callTool("", "c1", tools.SearchFunctionName, map[string]any{"intent": "email"}),
		callTool("", "c2", tools.SearchFunctionName, map[string]any{"intent": "email"}),
		reply("done"),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		tools.SearchFunctionName: func(context.Context, tools.Request) (any, error) {
			return discovered, nil
		},
	}}
	s := newTestSession(t, gen, inv, nil)
	if _, err := collect(s, context.Background(), "send an email"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(toolNames(gen.requests[1].Tools), toolNames(gen.requests[2].Tools)); diff != "" {
		t.Errorf("tool set changed (-before +after):\n%s", diff)
	}
	if n := len(s.Tools()); n != 3 {
		t.Errorf("want 3 tools, got %d", n)
	}
}

func TestStreamIterationLimit(t *testing.T) {
	var steps []step
	for i := range 5 {
		steps = append(steps, callTool("", string(rune('a'+i)), "BRAVE_SEARCH__WEB_SEARCH", nil))
	}
	gen := &fakeGenerator{steps: steps}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) { return "ok", nil },
	}}
	s := newTestSession(t, gen, inv, func(o *Options) { o.MaxIterations = 3 })
	_, err := collect(s, context.Background(), "loop")
	if !errors.Is(err, ErrIterationLimit) || !errors.Is(err, conversation.ErrProtocolViolation) {
		t.Errorf("want an iteration limit error, got %v", err)
	}
	if gen.calls() != 3 {
		t.Errorf("want 3 model calls, got %d", gen.calls())
	}
	if s.State() != StateFailed {
		t.Errorf("want failed, got %s", s.State())
	}
}

func TestStreamGeneratorError(t *testing.T) {
	boom := errors.New("backend unavailable")
	gen := &fakeGenerator{steps: []step{
		func(context.Context, ai.Request) (conversation.Turn, error) { return conversation.Turn{}, boom },
	}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	chunks, err := collect(s, context.Background(), "hi")
	var genErr *GeneratorError
	if !errors.As(err, &genErr) || !errors.Is(err, boom) {
		t.Errorf("want a generator error wrapping %v, got %v", boom, err)
	}
	if len(chunks) != 0 {
		t.Errorf("want no chunks, got %+v", chunks)
	}
	if s.State() != StateFailed {
		t.Errorf("want failed, got %s", s.State())
	}
}

func TestStreamGeneratorTimeout(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		func(ctx context.Context, _ ai.Request) (conversation.Turn, error) {
			<-ctx.Done()
			return conversation.Turn{}, ctx.Err()
		},
	}}
	s := newTestSession(t, gen, &fakeInvoker{}, func(o *Options) { o.GeneratorTimeout = 10 * time.Millisecond })
	_, err := collect(s, context.Background(), "hi")
	var genErr *GeneratorError
	if !errors.As(err, &genErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want a generator timeout, got %v", err)
	}
}

func TestStreamMalformedModelTurn(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("Searching.", "c1", "BRAVE_SEARCH__WEB_SEARCH", nil),
		callTool("Searching again.", "c1", "BRAVE_SEARCH__WEB_SEARCH", nil),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) { return "ok", nil },
	}}
	s := newTestSession(t, gen, inv, nil)
	chunks, err := collect(s, context.Background(), "hi")
	var genErr *GeneratorError
	if !errors.As(err, &genErr) || !errors.Is(err, conversation.ErrProtocolViolation) {
		t.Errorf("want a protocol violation, got %v", err)
	}
	// Text of the rejected turn must not be streamed.
	if diff := cmp.Diff([]Chunk{{Text: "Searching."}}, chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if n := len(s.Transcript()); n != 3 {
		t.Errorf("want 3 turns, got %d", n)
	}
	if len(inv.invoked) != 1 {
		t.Errorf("the duplicated call must not run, got %d invocations", len(inv.invoked))
	}
}

func TestStreamUnknownTool(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("", "c1", "NOT__OFFERED", nil),
		reply("I cannot do that."),
	}}
	inv := &fakeInvoker{}
	s := newTestSession(t, gen, inv, nil)
	if _, err := collect(s, context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if len(inv.invoked) != 0 {
		t.Errorf("unknown tools must not be invoked, got %+v", inv.invoked)
	}
	if r := s.Transcript()[2].Result; r == nil || !r.IsError {
		t.Errorf("want an error result, got %+v", r)
	}
}

func TestStreamToolTimeout(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("", "c1", "BRAVE_SEARCH__WEB_SEARCH", nil),
		reply("It took too long."),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(ctx context.Context, _ tools.Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	s := newTestSession(t, gen, inv, func(o *Options) { o.ToolTimeout = 10 * time.Millisecond })
	chunks, err := collect(s, context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if !chunks[len(chunks)-1].Final {
		t.Errorf("want a final chunk, got %+v", chunks)
	}
	if r := s.Transcript()[2].Result; r == nil || !r.IsError {
		t.Errorf("want an error result, got %+v", r)
	}
}

func TestStreamConsumerStops(t *testing.T) {
	gen := &fakeGenerator{steps: []step{
		callTool("first", "c1", "BRAVE_SEARCH__WEB_SEARCH", nil),
		reply("second"),
	}}
	inv := &fakeInvoker{funcs: map[string]func(context.Context, tools.Request) (any, error){
		"BRAVE_SEARCH__WEB_SEARCH": func(context.Context, tools.Request) (any, error) { return "ok", nil },
	}}
	s := newTestSession(t, gen, inv, nil)
	for c, err := range s.Stream(context.Background(), "hi") {
		if err != nil {
			t.Fatal(err)
		}
		if c.Text != "first" {
			t.Errorf("unexpected chunk %+v", c)
		}
		break
	}
	if gen.calls() != 1 || len(inv.invoked) != 0 {
		t.Errorf("no work should follow a stop: %d model calls, %d invocations", gen.calls(), len(inv.invoked))
	}
	if s.State() != StateFailed {
		t.Errorf("want failed, got %s", s.State())
	}
}

func TestStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &fakeGenerator{steps: []step{
		func(ctx context.Context, _ ai.Request) (conversation.Turn, error) {
			cancel()
			return conversation.Turn{}, ctx.Err()
		},
	}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	_, err := collect(s, ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	var genErr *GeneratorError
	if errors.As(err, &genErr) {
		t.Errorf("cancellation must not be reported as a generator error")
	}
}

func TestStreamEmptyMessage(t *testing.T) {
	gen := &fakeGenerator{}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	_, err := collect(s, context.Background(), " \n\t ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("want ErrEmptyMessage, got %v", err)
	}
	if gen.calls() != 0 || s.state.Len() != 0 {
		t.Errorf("nothing should happen for an empty message")
	}
}

func TestStreamIsLazy(t *testing.T) {
	gen := &fakeGenerator{steps: []step{reply("hi")}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	seq := s.Stream(context.Background(), "hello")
	if gen.calls() != 0 || s.State() != StateInitial {
		t.Fatalf("work started before iterating")
	}
	var texts []string
	for c, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		texts = append(texts, c.Text)
	}
	if !slices.Equal(texts, []string{"hi", ""}) {
		t.Errorf("unexpected texts %q", texts)
	}
}

func TestStreamOnlyOnce(t *testing.T) {
	gen := &fakeGenerator{steps: []step{reply("hi")}}
	s := newTestSession(t, gen, &fakeInvoker{}, nil)
	if _, err := collect(s, context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := collect(s, context.Background(), "again"); !errors.Is(err, ErrSessionUsed) {
		t.Errorf("want ErrSessionUsed, got %v", err)
	}
}

func TestSessionLogDir(t *testing.T) {
	gen := &fakeGenerator{steps: []step{reply("hi")}}
	dir := t.TempDir()
	s := newTestSession(t, gen, &fakeInvoker{}, func(o *Options) { o.SessionLogDir = dir })
	if _, err := collect(s, context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if s.ID() == "" {
		t.Errorf("session id is empty")
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateInitial:         "initial",
		StateAwaitingModel:   "awaiting_model",
		StateEmittingContent: "emitting_content",
		StateDispatchingTool: "dispatching_tool",
		StateDone:            "done",
		StateFailed:          "failed",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d: want %s, got %s", st, want, got)
		}
	}
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateAwaitingModel.Terminal() {
		t.Errorf("unexpected terminal states")
	}
}
