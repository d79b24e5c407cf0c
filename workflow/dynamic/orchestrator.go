package dynamic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/workflow"
	"golang.org/x/sync/errgroup"
)

// orchestratorExecutor runs a plan's steps sequentially, fanning each
// step's tasks out to their sub-agents in parallel. It executes entirely
// within one Process call rather than as separate graph supersteps, so a
// plan with many sequential steps consumes exactly one workflow iteration
// regardless of its length (a boundary case: ten sequential plan steps
// alone must never trip max_iterations).
type orchestratorExecutor struct {
	subAgents map[string]agent.Runner
}

func (*orchestratorExecutor) ID() string { return "orchestrator" }

func (o *orchestratorExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	decision, _ := in.Payload.(triageDecision)

	agg := aggregatedResults{
		OriginalHistory: decision.OriginalHistory,
		PlanUsed:        decision.Plan,
	}

	steps := groupBySteps(decision.Plan)
	contextSummary := ""

	for _, stepNum := range sortedStepNumbers(steps) {
		tasks := steps[stepNum]
		results, err := o.runStepParallel(ctx, tasks, contextSummary)
		if err != nil {
			return nil, err
		}
		agg.Steps = append(agg.Steps, results)
		contextSummary = summarizeStep(results)
	}

	return []workflow.Envelope{{Payload: agg}}, nil
}

// runStepParallel dispatches every task in a single plan step concurrently,
// each receiving the previous step's combined result as context, and
// returns their results in plan order (not arrival order).
func (o *orchestratorExecutor) runStepParallel(ctx context.Context, tasks []Step, contextSummary string) ([]stepResult, error) {
	results := make([]stepResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		runner, ok := o.subAgents[task.Agent]
		if !ok {
			return nil, fmt.Errorf("dynamic: no sub-agent registered for %q", task.Agent)
		}
		g.Go(func() error {
			question := task.Question
			if contextSummary != "" {
				question = fmt.Sprintf("Context from the previous step:\n%s\n\nYour task:\n%s", contextSummary, task.Question)
			}
			resp, err := agent.Collect(runner.RunStream(gctx, []core.Content{core.NewUserText(question)}))
			if err != nil {
				return err
			}
			results[i] = stepResult{Agent: task.Agent, Text: resp.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func groupBySteps(plan []Step) map[int][]Step {
	byStep := make(map[int][]Step)
	for _, s := range plan {
		byStep[s.Step] = append(byStep[s.Step], s)
	}
	return byStep
}

func sortedStepNumbers(byStep map[int][]Step) []int {
	nums := make([]int, 0, len(byStep))
	for n := range byStep {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func summarizeStep(results []stepResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s: %s\n", r.Agent, r.Text)
	}
	return b.String()
}
