package agent_test

import (
	"context"
	"testing"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays one buffered Response per Generate call, in order,
// ignoring req.Stream: every response is emitted as a single terminal item.
type scriptedModel struct {
	responses []model.Response
	calls     int
}

func (m *scriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	resp := m.responses[m.calls]
	m.calls++
	out <- resp
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func TestRunReturnsFinalTextWhenNoToolCallsRequested(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Content: core.NewAssistantText("hello there")},
	}}
	a := agent.New("greeter", m)

	resp, err := a.Run(context.Background(), []core.Content{core.NewUserText("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Empty(t, resp.ToolCalls)
}

func TestRunExecutesRequestedToolThenReturnsFinalAnswer(t *testing.T) {
	callContent := core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "echo", Arguments: `{"text":"hi"}`}},
	}}
	m := &scriptedModel{responses: []model.Response{
		{Content: callContent},
		{Content: core.NewAssistantText("done")},
	}}

	reg := tool.NewRegistry()
	reg.Register(tool.NewFunctionTool("echo", "echoes", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	}))

	a := agent.New("worker", m, agent.WithTools(reg))
	resp, err := a.Run(context.Background(), []core.Content{core.NewUserText("say hi")})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "echo", resp.ToolCalls[0].Name)
	assert.Equal(t, "hi", resp.ToolCalls[0].Result)
}

func TestRunFailsWithToolLoopExhaustedWhenBudgetExceeded(t *testing.T) {
	callContent := core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "echo", Arguments: `{}`}},
	}}
	responses := make([]model.Response, 3)
	for i := range responses {
		responses[i] = model.Response{Content: callContent}
	}
	m := &scriptedModel{responses: responses}

	reg := tool.NewRegistry()
	reg.Register(tool.NewFunctionTool("echo", "echoes", map[string]any{"type": "object"},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil }))

	a := agent.New("looper", m, agent.WithTools(reg), agent.WithToolCallBudget(2))
	_, err := a.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, chatmerr.KindToolLoopExhausted, chatmerr.KindOf(err))
}

func TestRunWithoutToolsReturnsPermanentErrorOnToolCall(t *testing.T) {
	callContent := core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "echo", Arguments: `{}`}},
	}}
	m := &scriptedModel{responses: []model.Response{{Content: callContent}}}

	a := agent.New("toolless", m)
	_, err := a.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, chatmerr.KindPermanent, chatmerr.KindOf(err))
}

func TestRunStreamForwardsTextDeltasBeforeFinal(t *testing.T) {
	deltaModel := &streamingScriptedModel{}
	a := agent.New("streamer", deltaModel)

	updates, errs := a.RunStream(context.Background(), []core.Content{core.NewUserText("hi")})
	var deltas []string
	var final *agent.Response
	for u := range updates {
		if u.DeltaText != "" {
			deltas = append(deltas, u.DeltaText)
		}
		if u.Final != nil {
			final = u.Final
		}
	}
	require.NoError(t, <-errs)
	require.NotNil(t, final)
	assert.Equal(t, []string{"he", "llo"}, deltas)
	assert.Equal(t, "hello", final.Text)
}

func TestRunWithResponseSchemaUsesBufferedCompleteNotStreaming(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Content: core.NewAssistantText(`{"answer":"42"}`)},
	}}
	a := agent.New("structured", m, agent.WithResponseSchema(map[string]any{
		"type":     "object",
		"required": []string{"answer"},
	}))

	resp, err := a.Run(context.Background(), []core.Content{core.NewUserText("what is it")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"42"}`, resp.Text)
	assert.Equal(t, 1, m.calls)
}

func TestRunStreamRendersInstructionsAgainstContextState(t *testing.T) {
	m := &instructionCapturingModel{
		response: model.Response{Content: core.NewAssistantText("done")},
	}
	a := agent.New("greeter", m, agent.WithInstructions("Hello {{.name}}, today is {{.date}}."))

	ctx := agent.WithState(context.Background(), map[string]any{"name": "Ada", "date": "2026-08-06"})
	_, err := a.Run(ctx, []core.Content{core.NewUserText("hi")})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, today is 2026-08-06.", m.gotInstructions)
}

func TestRunStreamLeavesInstructionsUnrenderedWithoutContextState(t *testing.T) {
	m := &instructionCapturingModel{
		response: model.Response{Content: core.NewAssistantText("done")},
	}
	a := agent.New("greeter", m, agent.WithInstructions("Hello {{.name}}."))

	_, err := a.Run(context.Background(), []core.Content{core.NewUserText("hi")})
	require.NoError(t, err)
	assert.Equal(t, "Hello {{.name}}.", m.gotInstructions)
}

// instructionCapturingModel records the Instructions it was asked to
// complete against, so tests can assert on template rendering.
type instructionCapturingModel struct {
	response        model.Response
	gotInstructions string
}

func (m *instructionCapturingModel) Generate(_ context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	m.gotInstructions = req.Instructions
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	out <- m.response
	close(out)
	close(errCh)
	return out, errCh
}

func (m *instructionCapturingModel) Info() model.Info { return model.Info{Name: "instruction-capturing"} }

// streamingScriptedModel emits two partial chunks then a non-partial final
// response carrying the full accumulated content, mirroring real provider
// adapter behavior.
type streamingScriptedModel struct{}

func (streamingScriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 3)
	errCh := make(chan error, 1)
	out <- model.Response{Partial: true, Content: core.NewAssistantText("he")}
	out <- model.Response{Partial: true, Content: core.NewAssistantText("llo")}
	out <- model.Response{Partial: false, Content: core.NewAssistantText("hello")}
	close(out)
	close(errCh)
	return out, errCh
}

func (streamingScriptedModel) Info() model.Info { return model.Info{Name: "streaming-scripted"} }
