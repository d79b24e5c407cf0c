package triage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/middleware"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/workflow"
)

// defaultMaxIterations bounds this graph's supersteps: store_query, triage,
// dispatch, at most one sub-agent hop per branch, aggregate, summarize — six
// is enough headroom for the widest single-pass fan-out this graph performs.
const defaultMaxIterations = 6

// Config wires a triage workflow to its two models and the sub-agent pool
// it may dispatch to.
type Config struct {
	TriageModel       model.Model
	SummaryModel      model.Model
	SubAgents         map[string]*agent.Agent
	CapabilitySummary string
	MaxIterations     int
}

// New builds the triage/dispatch/aggregate/summarize graph: a single
// non-streaming classification call routes to either a rejection reply or
// a fan-out over the registered sub-agents, whose answers are combined and
// handed to a streaming summary agent.
func New(cfg Config) (*workflow.Graph, error) {
	if len(cfg.SubAgents) == 0 {
		return nil, fmt.Errorf("triage: at least one sub-agent is required")
	}
	if cfg.TriageModel == nil || cfg.SummaryModel == nil {
		return nil, fmt.Errorf("triage: TriageModel and SummaryModel are required")
	}

	agentKeys := make([]string, 0, len(cfg.SubAgents))
	for key := range cfg.SubAgents {
		agentKeys = append(agentKeys, key)
	}
	sort.Strings(agentKeys)

	triageModelName := cfg.TriageModel.Info().Name
	triageAgent := agent.New("triage_agent", cfg.TriageModel,
		agent.WithInstructions(triageInstructions(cfg.CapabilitySummary, agentKeys)),
		agent.WithResponseSchema(buildTriageSchema(agentKeys)),
	)
	wrappedTriage := middleware.Agent("triage_agent", triageModelName, triageAgent)

	summaryModelName := cfg.SummaryModel.Info().Name
	summaryAgent := agent.New("summary_agent", cfg.SummaryModel,
		agent.WithInstructions(summaryInstructions()),
	)
	wrappedSummary := middleware.Agent("summary_agent", summaryModelName, summaryAgent)

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	g := workflow.NewGraph(workflow.WithEntry("store_query"), workflow.WithMaxIterations(maxIter))

	g.AddExecutor(storeQueryExecutor{})
	g.AddExecutor(&triageAgentExecutor{runner: wrappedTriage})
	g.AddExecutor(rejectQueryExecutor{capabilitySummary: cfg.CapabilitySummary})
	g.AddExecutor(dispatcherExecutor{})
	g.AddExecutor(newAggregatorExecutor())
	g.AddExecutor(&summaryAgentExecutor{runner: wrappedSummary})

	for key, sub := range cfg.SubAgents {
		modelName := sub.Model.Info().Name
		wrapped := middleware.Agent(key, modelName, sub)
		g.AddExecutor(&subAgentExecutor{key: key, runner: wrapped})
		// subAgentExecutor addresses "aggregator" directly via TargetID
		// (each sub-agent shares one destination but not one payload
		// shape with its siblings), so no edge is registered here.
	}

	g.AddEdge(workflow.NewEdge("store_query", "triage_agent"))
	g.AddEdge(workflow.NewMultiSelectionEdge("triage_agent", []string{"reject_query", "dispatcher"}, selectRejectOrDispatch))
	g.AddEdge(workflow.NewEdge("aggregator", "summary_agent"))

	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

func triageInstructions(capabilitySummary string, agentKeys []string) string {
	var b strings.Builder
	b.WriteString("You triage an incoming user request. Decide whether it falls within scope; ")
	b.WriteString("if not, set should_reject=true and explain why in reject_reason. Otherwise, ")
	b.WriteString("break the request into one or more tasks, each assigned to exactly one of the ")
	b.WriteString("following agents by name: ")
	b.WriteString(strings.Join(agentKeys, ", "))
	b.WriteString(". Assign the fewest tasks that fully cover the request.")
	if capabilitySummary != "" {
		b.WriteString("\n\nWhat this system can help with: ")
		b.WriteString(capabilitySummary)
	}
	return b.String()
}

func summaryInstructions() string {
	return "You write the final reply shown to the user, combining any specialist " +
		"findings you're given into one coherent, well-organized answer. Do not " +
		"mention that the findings came from separate agents."
}
