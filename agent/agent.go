// Package agent implements the LLM-backed unit of work: a name, a system
// prompt, an optional tool registry and an optional response schema, driven
// through a bounded propose-call-continue loop until the model returns a
// final answer with no pending tool calls.
package agent

import (
	"context"
	"fmt"

	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/internal/util"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/tool"
)

// defaultToolCallBudget bounds how many propose/execute round trips a single
// Run may take before giving up with ToolLoopExhausted.
const defaultToolCallBudget = 8

// Agent is a single LLM-backed participant: a system prompt plus an optional
// tool registry and response schema. Agent has no notion of sub-agents or
// hierarchical delegation; composition across agents is the workflow
// package's job.
type Agent struct {
	Name           string
	Instructions   string
	ResponseSchema map[string]any
	Tools          *tool.Registry
	Model          model.Model
	ToolCallBudget int
}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithInstructions sets the system prompt.
func WithInstructions(instructions string) Option {
	return func(a *Agent) { a.Instructions = instructions }
}

// WithResponseSchema constrains the agent's final answer to JSON conforming
// to schema, enabling model.Complete's retry-until-valid behavior.
func WithResponseSchema(schema map[string]any) Option {
	return func(a *Agent) { a.ResponseSchema = schema }
}

// WithTools attaches a tool registry the agent may call during its loop.
func WithTools(reg *tool.Registry) Option {
	return func(a *Agent) { a.Tools = reg }
}

// WithToolCallBudget overrides the default tool-call round-trip budget (8).
func WithToolCallBudget(n int) Option {
	return func(a *Agent) { a.ToolCallBudget = n }
}

// New constructs an Agent bound to m, applying opts in order.
func New(name string, m model.Model, opts ...Option) *Agent {
	a := &Agent{
		Name:           name,
		Model:          m,
		ToolCallBudget: defaultToolCallBudget,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ToolCallRecord is one executed tool call surfaced on the final Response,
// for callers (middleware, orchestration output traces) that need to know
// what happened during the loop.
type ToolCallRecord struct {
	Name      string
	Arguments string
	Result    string
	Err       error
}

// Response is an agent's buffered final answer.
type Response struct {
	Text      string
	Usage     *model.TokenUsage
	ToolCalls []ToolCallRecord
}

// RunUpdate is one increment surfaced by RunStream: a text delta, a tool
// call lifecycle notice, or (on the last item) the terminal Response.
type RunUpdate struct {
	DeltaText        string
	ToolCallStarted  *core.FunctionCall
	ToolCallFinished *ToolCallRecord
	Done             bool
	Final            *Response
}

// Runner is the interface agent.Agent and middleware.Agent wrappers both
// satisfy, letting middleware decorate a whole run without depending on the
// concrete Agent type.
type Runner interface {
	RunStream(ctx context.Context, history []core.Content) (<-chan RunUpdate, <-chan error)
}

// Run drives RunStream to completion and returns the buffered Response.
func (a *Agent) Run(ctx context.Context, history []core.Content) (Response, error) {
	updates, errs := a.RunStream(ctx, history)
	return Collect(updates, errs)
}

// RunStream runs the propose/execute loop against a copy of history,
// streaming text deltas as they arrive and executing any tool calls the
// model requests in between turns. The loop ends when a turn's final
// content carries no function calls, or when ToolCallBudget round trips are
// exhausted (a chatmerr ToolLoopExhausted error on the error channel). A
// tool call that fails with a chatmerr Permanent error ends the run with
// that error; other tool failures are fed back to the model as the call's
// response.
func (a *Agent) RunStream(ctx context.Context, history []core.Content) (<-chan RunUpdate, <-chan error) {
	out := make(chan RunUpdate, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		convo := make([]core.Content, len(history))
		copy(convo, history)

		budget := a.ToolCallBudget
		if budget <= 0 {
			budget = defaultToolCallBudget
		}

		var toolCalls []ToolCallRecord

		instructions := a.Instructions
		if state := StateFromContext(ctx); state != nil {
			if rendered, err := util.RenderTemplate(instructions, state); err == nil {
				instructions = rendered
			}
		}

		for turn := 0; ; turn++ {
			if turn >= budget {
				errCh <- chatmerr.New(chatmerr.KindToolLoopExhausted, "agent",
					fmt.Sprintf("agent %q exceeded tool call budget of %d", a.Name, budget))
				return
			}

			req := model.Request{
				Instructions: instructions,
				Contents:     convo,
				Schema:       a.ResponseSchema,
			}
			if a.Tools != nil {
				req.Tools = a.Tools.Definitions()
			}

			final, usage, err := a.runTurn(ctx, req, out)
			if err != nil {
				errCh <- err
				return
			}

			calls := final.FunctionCalls()
			if len(calls) == 0 {
				resp := Response{Text: final.Text(), Usage: usage, ToolCalls: toolCalls}
				out <- RunUpdate{Done: true, Final: &resp}
				return
			}

			convo = append(convo, final)

			responses := make([]core.Part, 0, len(calls))
			for _, call := range calls {
				out <- RunUpdate{ToolCallStarted: &call}

				result, callErr := a.callTool(ctx, call)
				if callErr != nil && chatmerr.KindOf(callErr) == chatmerr.KindPermanent {
					errCh <- callErr
					return
				}
				record := ToolCallRecord{Name: call.Name, Arguments: call.Arguments}
				fr := core.FunctionResponse{ID: call.ID, Name: call.Name}
				if callErr != nil {
					record.Err = callErr
					fr.Error = callErr.Error()
				} else {
					record.Result = fmt.Sprintf("%v", result)
					fr.Response = result
				}
				toolCalls = append(toolCalls, record)
				out <- RunUpdate{ToolCallFinished: &record}
				responses = append(responses, core.FunctionResponsePart{FunctionResponse: fr})
			}
			convo = append(convo, core.Content{Role: "tool", Parts: responses})
		}
	}()

	return out, errCh
}

// runTurn drives one model turn to completion and returns its aggregated
// final content plus usage. A schema-constrained turn is never streamed:
// it goes through model.Complete's buffered retry-until-valid path, since
// structured JSON and incremental text cannot be produced by the same
// completion (spec design note: keep JSON-producing calls non-streaming).
// Otherwise it drives model.CompleteStream, forwarding text deltas onto out
// as they arrive.
func (a *Agent) runTurn(ctx context.Context, req model.Request, out chan<- RunUpdate) (core.Content, *model.TokenUsage, error) {
	if req.Schema != nil {
		resp, err := model.Complete(ctx, a.Model, req)
		if err != nil {
			return core.Content{}, nil, err
		}
		return resp.Content, resp.Usage, nil
	}

	updates, errs := model.CompleteStream(ctx, a.Model, req)
	for {
		select {
		case <-ctx.Done():
			return core.Content{}, nil, ctx.Err()
		case u, ok := <-updates:
			if !ok {
				continue
			}
			if u.Done {
				if u.FinalContent != nil {
					return *u.FinalContent, u.Usage, nil
				}
				return core.Content{}, u.Usage, nil
			}
			if u.DeltaText != "" {
				out <- RunUpdate{DeltaText: u.DeltaText}
			}
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				return core.Content{}, nil, err
			}
		}
	}
}

// callTool dispatches a model-requested function call through the agent's
// tool registry. Calling a tool with no registry attached is a permanent
// configuration error, not a retryable one.
func (a *Agent) callTool(ctx context.Context, call core.FunctionCall) (interface{}, error) {
	if a.Tools == nil {
		return nil, chatmerr.New(chatmerr.KindPermanent, "agent",
			fmt.Sprintf("agent %q received tool call %q with no tool registry attached", a.Name, call.Name))
	}
	return a.Tools.Call(ctx, call.Name, call.Arguments)
}

// Collect drains a RunUpdate/error channel pair to completion and returns
// the terminal Response, for callers that want a buffered result on top of
// a streaming Runner (mirrors model.Complete's relationship to
// model.CompleteStream).
func Collect(updates <-chan RunUpdate, errs <-chan error) (Response, error) {
	var final *Response
	for u := range updates {
		if u.Final != nil {
			final = u.Final
		}
	}
	if err := <-errs; err != nil {
		return Response{}, err
	}
	if final == nil {
		return Response{}, chatmerr.New(chatmerr.KindUnknown, "agent", "run terminated without a final response")
	}
	return *final, nil
}
