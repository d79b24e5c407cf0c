package dynamic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/middleware"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/workflow"
)

// maxIterations is fixed at a constant value, not derived per graph shape:
// the loop-back edge is what consumes iterations, and a plan's own step
// count never does (see orchestratorExecutor).
const maxIterations = 10

// Config wires a dynamic (plan/review loop) workflow to its models and
// sub-agent pool.
type Config struct {
	PlanModel         model.Model
	ReplanModel       model.Model
	ReviewModel       model.Model
	SummaryModel      model.Model
	SubAgents         map[string]*agent.Agent
	CapabilitySummary string
}

// New builds the plan/review loop graph.
func New(cfg Config) (*workflow.Graph, error) {
	if len(cfg.SubAgents) == 0 {
		return nil, fmt.Errorf("dynamic: at least one sub-agent is required")
	}
	for _, m := range []model.Model{cfg.PlanModel, cfg.ReplanModel, cfg.ReviewModel, cfg.SummaryModel} {
		if m == nil {
			return nil, fmt.Errorf("dynamic: PlanModel, ReplanModel, ReviewModel and SummaryModel are all required")
		}
	}

	agentKeys := make([]string, 0, len(cfg.SubAgents))
	for key := range cfg.SubAgents {
		agentKeys = append(agentKeys, key)
	}
	sort.Strings(agentKeys)

	planAgent := agent.New("plan_agent", cfg.PlanModel,
		agent.WithInstructions(planInstructions(cfg.CapabilitySummary, agentKeys)),
		agent.WithResponseSchema(buildPlanSchema(agentKeys)))
	replanAgent := agent.New("replan_agent", cfg.ReplanModel,
		agent.WithInstructions(replanInstructions(agentKeys)),
		agent.WithResponseSchema(buildReplanSchema(agentKeys)))
	reviewAgent := agent.New("review_agent", cfg.ReviewModel,
		agent.WithInstructions(reviewInstructions()),
		agent.WithResponseSchema(buildReviewSchema()))
	summaryAgent := agent.New("summary_agent", cfg.SummaryModel,
		agent.WithInstructions(summaryInstructions()))

	triage := &triageExecutor{
		planRunner:   middleware.Agent("plan_agent", cfg.PlanModel.Info().Name, planAgent),
		replanRunner: middleware.Agent("replan_agent", cfg.ReplanModel.Info().Name, replanAgent),
	}
	review := &reviewExecutor{
		reviewRunner:  middleware.Agent("review_agent", cfg.ReviewModel.Info().Name, reviewAgent),
		summaryRunner: middleware.Agent("summary_agent", cfg.SummaryModel.Info().Name, summaryAgent),
	}
	streamSummaryExec := &streamingSummaryExecutor{
		summaryRunner: middleware.Agent("summary_agent", cfg.SummaryModel.Info().Name, summaryAgent),
	}

	subRunners := make(map[string]agent.Runner, len(cfg.SubAgents))
	for key, sub := range cfg.SubAgents {
		subRunners[key] = middleware.Agent(key, sub.Model.Info().Name, sub)
	}
	orchestrator := &orchestratorExecutor{subAgents: subRunners}

	g := workflow.NewGraph(workflow.WithEntry("store_query"), workflow.WithMaxIterations(maxIterations))

	g.AddExecutor(storeQueryExecutor{})
	g.AddExecutor(triage)
	g.AddExecutor(clarifyExecutor{})
	g.AddExecutor(rejectQueryExecutor{capabilitySummary: cfg.CapabilitySummary})
	g.AddExecutor(orchestrator)
	g.AddExecutor(review)
	g.AddExecutor(streamSummaryExec)

	g.AddEdge(workflow.NewEdge("store_query", "triage_executor"))
	g.AddEdge(workflow.NewMultiSelectionEdge("triage_executor",
		[]string{"clarify_executor", "reject_query", "orchestrator", "streaming_summary"},
		selectTriageRoute))
	g.AddEdge(workflow.NewEdge("orchestrator", "review_executor"))
	// review_executor's replan loop-back uses an explicit TargetID
	// (workflow.Envelope.TargetID), bypassing edges entirely, since it is
	// the only outgoing path review_executor ever takes when not final.

	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

func planInstructions(capabilitySummary string, agentKeys []string) string {
	s := "You plan how to answer a user's request using the following agents: " +
		strings.Join(agentKeys, ", ") + ". Decide action: \"plan\" (produce one or more steps, " +
		"each assigned to exactly one agent; steps sharing a step number run in parallel, " +
		"higher step numbers run after lower ones), \"clarify\" (the request is too " +
		"ambiguous to plan), or \"reject\" (the request is out of scope)."
	if capabilitySummary != "" {
		s += "\n\nWhat this system can help with: " + capabilitySummary
	}
	return s
}

func replanInstructions(agentKeys []string) string {
	return "You decide how to respond to reviewer feedback on a plan's results, using the " +
		"following agents: " + strings.Join(agentKeys, ", ") + ". Either accept_review=true with a " +
		"new_plan covering the gaps, or accept_review=false to keep the existing results as final."
}

func reviewInstructions() string {
	return "You judge whether a set of findings fully answers the original request. " +
		"If not, list the missing aspects and suggest an approach to cover them."
}

func summaryInstructions() string {
	return "You write the final reply shown to the user, combining the given findings " +
		"into one coherent, well-organized answer. Do not mention that the findings came " +
		"from separate agents or steps."
}
