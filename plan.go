package sitepilot

import (
	"context"
	"fmt"
	"strings"
)

// Intent classifies what the user is asking for this turn.
type Intent string

const (
	// IntentAction asks the copilot to do something with the tools.
	IntentAction Intent = "action"

	// IntentCapability asks what the copilot is able to do; answered in
	// text, no steps are executed.
	IntentCapability Intent = "capability"
)

// HistoryTurn is one prior conversation turn given to the planner.
type HistoryTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// PlanRequest is the planner input for one turn.
type PlanRequest struct {
	UserText string
	History  []HistoryTurn
	Snapshot *Snapshot
}

// PlanResult is what a planner proposes for a turn. Steps may reference
// unknown tools or omit the risk flag; BuildPlan repairs both before
// execution.
type PlanResult struct {
	Intent             Intent     `json:"intent"`
	CapabilityResponse string     `json:"capability_response,omitempty"`
	Steps              []PlanStep `json:"steps,omitempty"`
	ParamPrompt        string     `json:"param_prompt,omitempty"`
}

// Planner proposes a classified plan for a user request. Implementations
// are typically LLM-backed; the engine treats the output as untrusted and
// validates it against the tool snapshot.
type Planner interface {
	ClassifyAndPlan(ctx context.Context, req *PlanRequest) (*PlanResult, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req *PlanRequest) (*PlanResult, error)

func (f PlannerFunc) ClassifyAndPlan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	return f(ctx, req)
}

const (
	maxHistoryTurns = 8
	maxHistoryChars = 2000
)

// WindowHistory bounds the history handed to the planner: at most
// maxHistoryTurns most-recent turns and maxHistoryChars total characters,
// truncating the oldest kept turn first when over budget.
func WindowHistory(history []HistoryTurn) []HistoryTurn {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	windowed := append([]HistoryTurn{}, history...)

	total := 0
	for _, turn := range windowed {
		total += len(turn.Text)
	}
	for i := 0; i < len(windowed) && total > maxHistoryChars; i++ {
		over := total - maxHistoryChars
		if over >= len(windowed[i].Text) {
			total -= len(windowed[i].Text)
			windowed[i].Text = ""
			continue
		}
		windowed[i].Text = windowed[i].Text[over:]
		total = maxHistoryChars
	}

	kept := windowed[:0]
	for _, turn := range windowed {
		if turn.Text != "" {
			kept = append(kept, turn)
		}
	}
	return kept
}

// BuildPlan validates planner-proposed steps against the tool snapshot and
// repairs what it can:
//   - steps naming tools absent from the snapshot are dropped
//   - the risk flag is recomputed from the catalog, never trusted
//   - arguments are alias-normalized
//   - an empty surviving plan falls back to one step on the snapshot's
//     first tool with empty arguments
func BuildPlan(ctx context.Context, snapshot *Snapshot, steps []PlanStep) []PlanStep {
	logger := LoggerFromContext(ctx)

	plan := make([]PlanStep, 0, len(steps))
	for _, step := range steps {
		spec := snapshot.Find(step.Tool)
		if spec == nil {
			logger.Warn("dropping plan step with unknown tool",
				"tool", step.Tool, "title", step.Title)
			continue
		}
		step.Args = NormalizeArgs(step.Args)
		step.Risky = spec.IsRisky()
		if step.Title == "" {
			step.Title = spec.Name
		}
		plan = append(plan, step)
	}

	if len(plan) == 0 {
		first := snapshot.Tools[0]
		logger.Warn("plan empty after validation, falling back to first tool",
			"tool", first.Name)
		plan = append(plan, PlanStep{
			Title: first.Name,
			Tool:  first.Name,
			Args:  map[string]any{},
			Risky: first.IsRisky(),
		})
	}
	return plan
}

// MissingParams collects the steps that still need user-supplied
// parameters, in plan order.
func MissingParams(plan []PlanStep) []PlanStep {
	var needy []PlanStep
	for _, step := range plan {
		if step.NeedsParams {
			needy = append(needy, step)
		}
	}
	return needy
}

// ParamPromptFor builds the fallback prompt asking the user for missing
// parameters when the planner did not provide its own wording.
func ParamPromptFor(needy []PlanStep) string {
	var parts []string
	for _, step := range needy {
		if len(step.MissingParams) == 0 {
			parts = append(parts, step.Title)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)",
			step.Title, strings.Join(step.MissingParams, ", ")))
	}
	return "More details are needed before I can continue: " + strings.Join(parts, "; ")
}

// PlanBrief renders a short numbered description of the plan for cards and
// logs.
func PlanBrief(plan []PlanStep) string {
	var b strings.Builder
	for i, step := range plan {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, step.Title)
		if step.Risky {
			b.WriteString(" (requires confirmation)")
		}
	}
	return b.String()
}
