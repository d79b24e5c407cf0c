package dynamic

// stepSchema is the shared shape of one plan entry, parameterized by the
// live sub-agent key set.
func stepSchema(agentKeys []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"step":     map[string]any{"type": "integer"},
			"agent":    map[string]any{"type": "string", "enum": agentKeys},
			"question": map[string]any{"type": "string"},
		},
		"required": []string{"step", "agent", "question"},
	}
}

func buildPlanSchema(agentKeys []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":        map[string]any{"type": "string", "enum": []string{"plan", "clarify", "reject"}},
			"reject_reason": map[string]any{"type": "string"},
			"plan":          map[string]any{"type": "array", "items": stepSchema(agentKeys)},
			"plan_reason":   map[string]any{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func buildReplanSchema(agentKeys []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"accept_review":    map[string]any{"type": "boolean"},
			"new_plan":         map[string]any{"type": "array", "items": stepSchema(agentKeys)},
			"rejection_reason": map[string]any{"type": "string"},
		},
		"required": []string{"accept_review"},
	}
}

func buildReviewSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_complete":       map[string]any{"type": "boolean"},
			"missing_aspects":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"suggested_approach": map[string]any{"type": "string"},
			"confidence":        map[string]any{"type": "number"},
		},
		"required": []string{"is_complete"},
	}
}
