package model_test

import (
	"context"
	"testing"

	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays a fixed sequence of buffered responses, one per
// Generate call, regardless of the request contents. Useful for exercising
// Complete's schema retry loop without a real provider.
type scriptedModel struct {
	responses []model.Response
	calls     int
}

func (m *scriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	resp := m.responses[m.calls]
	m.calls++
	out <- resp
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test"}
}

func TestCompleteReturnsFinalNonPartialResponse(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Partial: false, Content: core.NewAssistantText("hello"), FinishReason: "stop"},
	}}

	resp, err := model.Complete(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewUserText("hi")},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content.Text())
	assert.Equal(t, 1, m.calls)
}

func TestCompleteRetriesUntilSchemaValidates(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Content: core.NewAssistantText(`not json`)},
		{Content: core.NewAssistantText(`{"answer":"42"}`)},
	}}

	resp, err := model.Complete(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewUserText("hi")},
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []string{"answer"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42"}`, resp.Content.Text())
	assert.Equal(t, 2, m.calls)
}

func TestCompleteFailsWithSchemaViolationAfterExhaustingRetries(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Content: core.NewAssistantText(`nope`)},
		{Content: core.NewAssistantText(`still nope`)},
		{Content: core.NewAssistantText(`{}`)}, // missing required field
	}}

	_, err := model.Complete(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewUserText("hi")},
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []string{"answer"},
		},
	})

	require.Error(t, err)
	assert.Equal(t, 3, m.calls)
}

type streamingModel struct{ full string }

func (m *streamingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, len(m.full)+1)
	errCh := make(chan error, 1)
	for _, r := range m.full {
		out <- model.Response{Partial: true, Content: core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: string(r)}}}}
	}
	out <- model.Response{Partial: false, Usage: &model.TokenUsage{TotalTokens: 5}}
	close(out)
	close(errCh)
	return out, errCh
}

func (m *streamingModel) Info() model.Info { return model.Info{Name: "streaming"} }

func TestCompleteStreamConcatenatesDeltasAndTerminatesWithUsage(t *testing.T) {
	m := &streamingModel{full: "hi"}
	updates, errCh := model.CompleteStream(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewUserText("hi")},
	})

	var text string
	var sawDone bool
	for u := range updates {
		text += u.DeltaText
		if u.Done {
			sawDone = true
			require.NotNil(t, u.Usage)
			assert.Equal(t, 5, u.Usage.TotalTokens)
		}
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "hi", text)
	assert.True(t, sawDone)
}
