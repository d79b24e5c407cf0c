package chattest

import (
	"context"
	"fmt"

	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/model"
)

// MockModel is a lightweight in-memory model.Model double for tests. It
// echoes a canned response registered via AddResponse for the last user
// text in the request, or a deterministic fallback when nothing was
// registered. Register a FunctionCall response with AddFunctionCall to
// exercise an agent's tool loop deterministically.
type MockModel struct {
	info      model.Info
	responses map[string]string
	calls     map[string]core.FunctionCall
	stream    bool
}

// NewMockModel constructs a MockModel reporting the given name/provider via Info.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      model.Info{Name: name, Provider: provider, SupportsTools: true},
		responses: make(map[string]string),
		calls:     make(map[string]core.FunctionCall),
	}
}

// WithStreaming enables emitting the canned response as one-character
// partial chunks before the final non-partial Response (chainable).
func (m *MockModel) WithStreaming() *MockModel { m.stream = true; return m }

// AddResponse registers a canned text completion for a given input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// AddFunctionCall registers a canned function-call response for a given
// input prompt, so Generate returns a FunctionCallPart instead of text.
func (m *MockModel) AddFunctionCall(prompt string, call core.FunctionCall) { m.calls[prompt] = call }

// Generate implements model.Model.
func (m *MockModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("chattest: no contents provided")
			return
		}
		inputText := req.Contents[len(req.Contents)-1].Text()

		if call, ok := m.calls[inputText]; ok {
			respCh <- model.Response{
				Content:      core.Content{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: call}}},
				FinishReason: "tool_calls",
			}
			return
		}

		full := m.responses[inputText]
		if full == "" {
			full = fmt.Sprintf("mock response to: %s", inputText)
		}

		if m.stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					return
				case respCh <- model.Response{Partial: true, Content: core.NewAssistantText(string(r))}:
				}
			}
		}
		respCh <- model.Response{
			Content:      core.NewAssistantText(full),
			FinishReason: "stop",
			Usage:        &model.TokenUsage{PromptTokens: len(inputText), CompletionTokens: len(full), TotalTokens: len(inputText) + len(full)},
		}
	}()

	return respCh, errCh
}

// Info implements model.Model.
func (m *MockModel) Info() model.Info { return m.info }
