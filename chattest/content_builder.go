package chattest

import "github.com/relaymesh/chatmesh/core"

// ContentBuilder provides a fluent helper for constructing core.Content
// values in tests.
//
//	c := NewContentBuilder("assistant").Text("hello").Build()
//
// Chain only the parts you need; Role defaults to "user".
type ContentBuilder struct {
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	customParts   []core.Part
}

// NewContentBuilder creates a builder for the given role.
func NewContentBuilder(role string) *ContentBuilder {
	return &ContentBuilder{role: role}
}

// Text appends a text part (chainable).
func (b *ContentBuilder) Text(t string) *ContentBuilder {
	b.textParts = append(b.textParts, t)
	return b
}

// FunctionCall appends a function call part with a JSON argument string (chainable).
func (b *ContentBuilder) FunctionCall(id, name, args string) *ContentBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse appends a function response part (chainable). Pass err
// non-nil to populate the response's Error field instead of Response.
func (b *ContentBuilder) FunctionResponse(id, name string, result interface{}, err error) *ContentBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// AddPart appends a custom part (chainable).
func (b *ContentBuilder) AddPart(p core.Part) *ContentBuilder {
	b.customParts = append(b.customParts, p)
	return b
}

// Build assembles the core.Content value.
func (b *ContentBuilder) Build() core.Content {
	role := b.role
	if role == "" {
		role = "user"
	}
	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses)+len(b.customParts))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}
	parts = append(parts, b.customParts...)
	return core.Content{Role: role, Parts: parts}
}
