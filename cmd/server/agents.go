package main

import (
	"context"
	"fmt"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/middleware"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/tool"
)

// capabilitySummary is handed to the triage/plan agents so they can explain
// what the service covers when rejecting an out-of-scope request.
const capabilitySummary = "IT operations: looking up ServiceNow incidents, " +
	"querying log analytics, and checking service health status."

// buildSubAgents wires the fixed IT-operations sub-agent pool named
// directly by (servicenow, log_analytics, service_health): each
// is a single-tool specialist an incoming triage or plan step can dispatch
// to.
func buildSubAgents(m model.Model) map[string]*agent.Agent {
	return map[string]*agent.Agent{
		"servicenow": agent.New("servicenow", m,
			agent.WithInstructions("You look up ServiceNow incidents by ID using the get_incident tool and report their status, priority, and short description. Today's date is {{.date}}; use it when the user refers to incidents relatively (e.g. \"today's incidents\")."),
			agent.WithTools(serviceNowRegistry())),
		"log_analytics": agent.New("log_analytics", m,
			agent.WithInstructions("You query recent logs for a service using the query_logs tool and summarize any errors or anomalies found. Today's date is {{.date}}."),
			agent.WithTools(logAnalyticsRegistry())),
		"service_health": agent.New("service_health", m,
			agent.WithInstructions("You check a service's current health status using the check_health tool and report whether it is degraded. You are answering within conversation {{.conversation_id}}."),
			agent.WithTools(serviceHealthRegistry())),
	}
}

func serviceNowRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(middleware.Tool(tool.NewFunctionTool(
		"get_incident",
		"Fetch a ServiceNow incident's status, priority, and description by incident ID.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"incident_id": map[string]any{"type": "string", "description": "e.g. INC123"},
			},
			"required": []any{"incident_id"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			id, _ := args["incident_id"].(string)
			return map[string]any{
				"incident_id": id,
				"status":      "in_progress",
				"priority":    "P2",
				"description": fmt.Sprintf("incident %s under investigation", id),
			}, nil
		},
	)))
	return reg
}

func logAnalyticsRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(middleware.Tool(tool.NewFunctionTool(
		"query_logs",
		"Query recent log entries for a service within a time window.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service":     map[string]any{"type": "string"},
				"window_mins": map[string]any{"type": "integer"},
			},
			"required": []any{"service"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			service, _ := args["service"].(string)
			return map[string]any{
				"service":     service,
				"error_count": 0,
				"summary":     fmt.Sprintf("no anomalies found for %s", service),
			}, nil
		},
	)))
	return reg
}

func serviceHealthRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(middleware.Tool(tool.NewFunctionTool(
		"check_health",
		"Check a service's current health status.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service": map[string]any{"type": "string"},
			},
			"required": []any{"service"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			service, _ := args["service"].(string)
			return map[string]any{"service": service, "status": "healthy"}, nil
		},
	)))
	return reg
}
