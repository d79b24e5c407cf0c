package agent

import "context"

type stateKey struct{}

// WithState returns a new context carrying state as the ambient per-request
// template variables an Agent's Instructions are rendered against (see
// RunStream). Mirrors bus.WithBus/FromContext: the caller that starts a
// request attaches state once, and every agent invoked deeper in the call
// chain picks it up without threading a parameter through every signature.
func WithState(ctx context.Context, state map[string]any) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFromContext returns the ambient state set by WithState, or nil if
// none was set (e.g. offline/test execution outside a request).
func StateFromContext(ctx context.Context) map[string]any {
	state, _ := ctx.Value(stateKey{}).(map[string]any)
	return state
}
