// Package middleware provides the two observability interceptors that sit
// between the workflow engine and the agent/tool packages: Agent wraps a
// whole agent run to emit invocation/completion events, Tool wraps a whole
// tool call to emit start/end events. Both are decorators over whole calls
// rather than a separate before/after RequestProcessor/ResponseProcessor
// pair, because reconstructing a buffered AgentResponse out of a stream (to
// extract usage) cannot be expressed as two independent callbacks.
package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/tool"
)

// OrchestrationAgents is the static set of agent names whose agent_finished
// event additionally carries the structured output, so the UI can render
// their decision traces. Membership is checked by name, not by type: any
// agent registered under one of these names gets output attachment.
var OrchestrationAgents = map[string]bool{
	"triage_agent":  true,
	"plan_agent":    true,
	"replan_agent":  true,
	"review_agent":  true,
	"clarify_agent": true,
	"summary_agent": true,
}

// runnerFunc adapts a plain function to the agent.Runner interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type runnerFunc func(ctx context.Context, history []core.Content) (<-chan agent.RunUpdate, <-chan error)

func (f runnerFunc) RunStream(ctx context.Context, history []core.Content) (<-chan agent.RunUpdate, <-chan error) {
	return f(ctx, history)
}

// Agent wraps next so that every RunStream call emits agent_invoked before
// starting and agent_finished after the stream terminates, on the bus found
// in ctx via bus.FromContext. name identifies the agent in both events;
// modelName is recorded on agent_finished for cost/usage attribution. When
// no bus is set on ctx, the wrapper is a pure passthrough.
func Agent(name, modelName string, next agent.Runner) agent.Runner {
	return runnerFunc(func(ctx context.Context, history []core.Content) (<-chan agent.RunUpdate, <-chan error) {
		b := bus.FromContext(ctx)
		if b == nil {
			return next.RunStream(ctx, history)
		}

		bus.Emit(ctx, bus.NewAgentInvokedEvent(name))
		start := time.Now()

		in, inErr := next.RunStream(ctx, history)
		out := make(chan agent.RunUpdate, 32)
		errCh := make(chan error, 1)

		go func() {
			defer close(out)
			defer close(errCh)

			var final *agent.Response
			for u := range in {
				if u.Final != nil {
					final = u.Final
				}
				out <- u
			}

			err := <-inErr
			elapsed := time.Since(start).Milliseconds()

			var usage *bus.Usage
			var output interface{}
			if final != nil {
				if final.Usage != nil {
					usage = &bus.Usage{
						PromptTokens:     final.Usage.PromptTokens,
						CompletionTokens: final.Usage.CompletionTokens,
						TotalTokens:      final.Usage.TotalTokens,
					}
				}
				if OrchestrationAgents[name] {
					output = final.Text
				}
			}
			bus.Emit(ctx, bus.NewAgentFinishedEvent(name, modelName, usage, elapsed, output))

			if err != nil {
				errCh <- err
			}
		}()

		return out, errCh
	})
}

// toolFunc adapts a plain function to the tool.Tool interface, delegating
// Name/Description/Parameters to an embedded tool.Tool and overriding only
// Call.
type toolFunc struct {
	tool.Tool
	call func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (t toolFunc) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.call(ctx, args)
}

// Tool wraps next so that every Call emits function_start before dispatch
// and function_end after completion, successful or not, on the bus found in
// ctx. Errors are still reported as function_end with an error-shaped
// result rather than suppressed. A no-bus ctx makes this a passthrough.
func Tool(next tool.Tool) tool.Tool {
	return toolFunc{
		Tool: next,
		call: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			b := bus.FromContext(ctx)
			if b == nil {
				return next.Call(ctx, args)
			}

			argsJSON, _ := json.Marshal(args)
			bus.Emit(ctx, bus.NewFunctionStartEvent(next.Name(), string(argsJSON)))

			result, err := next.Call(ctx, args)

			var resultText string
			if err != nil {
				resultText = errorResult(err)
			} else if b, merr := json.Marshal(result); merr == nil {
				resultText = string(b)
			}
			bus.Emit(ctx, bus.NewFunctionEndEvent(next.Name(), resultText))

			return result, err
		},
	}
}

func errorResult(err error) string {
	b, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return err.Error()
	}
	return string(b)
}
