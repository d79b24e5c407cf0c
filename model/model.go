// Package model defines the normalized LLM client interface every provider
// adapter implements, plus the buffered/streaming convenience wrappers and
// schema-constrained retry logic shared by all agents.
package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual tool exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request captures a normalized generation request.
type Request struct {
	Instructions string           `json:"instructions"` // system prompt
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	// Schema, when set, constrains the response to valid JSON conforming to
	// this JSON Schema. Complete retries on violation up to a fixed bound.
	Schema map[string]interface{} `json:"schema,omitempty"`
	Stream bool                   `json:"stream,omitempty"`
}

// TokenUsage captures token accounting for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // stop, length, tool_calls, ...
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info describes a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the interface every LLM provider adapter implements. Generate
// unifies buffered and streaming generation: callers set Request.Stream and
// either drain every Response (streaming) or wait for the sole final one
// (buffered, via Complete).
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// maxSchemaRetries bounds the schema-conformance retry loop: "a small fixed
// bound before failing with SchemaViolation".
const maxSchemaRetries = 3

// Complete drains m.Generate for a single buffered Response. When req.Schema
// is set the final content's text must parse and validate as JSON matching
// the schema; on failure the whole request is retried up to
// maxSchemaRetries times before returning a chatmerr SchemaViolation.
func Complete(ctx context.Context, m Model, req Request) (Response, error) {
	req.Stream = false
	attempts := 1
	if req.Schema != nil {
		attempts = maxSchemaRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := generateOnce(ctx, m, req)
		if err != nil {
			return Response{}, err
		}
		if req.Schema == nil {
			return resp, nil
		}
		if verr := validateSchema(resp.Content.Text(), req.Schema); verr == nil {
			return resp, nil
		} else {
			lastErr = verr
		}
	}
	return Response{}, chatmerr.Wrap(chatmerr.KindSchemaViolation, "model",
		fmt.Sprintf("response did not conform to schema after %d attempts", attempts), lastErr)
}

func generateOnce(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var final Response
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				return final, nil
			}
			if !resp.Partial {
				final = resp
			}
		case err, ok := <-errCh:
			if !ok {
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
}

// Update is a streaming increment surfaced to callers of CompleteStream: a
// text delta while generation is in progress, or a terminal snapshot
// carrying usage and the fully-aggregated FinalContent (including any tool
// calls) once the provider signals completion.
type Update struct {
	DeltaText    string
	Usage        *TokenUsage
	Done         bool
	FinalContent *core.Content
}

// CompleteStream adapts Generate's Response channel into a channel of Update
// values. Only partial responses are translated into text deltas; the
// terminal non-partial Response is surfaced once as FinalContent rather than
// re-emitted as more delta text, since provider adapters send the fully
// accumulated content (text and any tool calls) on that last item. Schema
// validation does not apply to streaming calls: callers that need schema
// constraints use Complete non-streaming, matching the design note that
// JSON-producing and streaming calls are never fused.
func CompleteStream(ctx context.Context, m Model, req Request) (<-chan Update, <-chan error) {
	req.Stream = true
	out := make(chan Update, 32)
	errCh := make(chan error, 1)

	respCh, mErrCh := m.Generate(ctx, req)

	go func() {
		defer close(out)
		defer close(errCh)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case resp, ok := <-respCh:
				if !ok {
					return
				}
				if resp.Partial {
					if text := resp.Content.Text(); text != "" {
						out <- Update{DeltaText: text}
					}
					continue
				}
				content := resp.Content
				out <- Update{Usage: resp.Usage, Done: true, FinalContent: &content}
			case err, ok := <-mErrCh:
				if !ok {
					continue
				}
				if err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	return out, errCh
}

// validateSchema parses text as JSON and checks it against schema's
// top-level "required" fields, reusing the minimal JSON-Schema subset used
// for tool argument validation elsewhere in the module.
func validateSchema(text string, schema map[string]interface{}) error {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []interface{}:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	for _, field := range required {
		if _, ok := payload[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	return nil
}
