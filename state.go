package sitepilot

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// PlanStep is one unit of work in an execution plan.
type PlanStep struct {
	Title string `json:"title"`

	// Tool is the catalog operation name. A step naming a tool absent from
	// the catalog snapshot is dropped before execution.
	Tool string `json:"tool"`

	Args map[string]any `json:"args,omitempty"`

	// Risky is derived deterministically from the tool name/description,
	// never taken from the planner.
	Risky bool `json:"is_risky"`

	NeedsParams   bool     `json:"needs_params,omitempty"`
	MissingParams []string `json:"missing_params,omitempty"`
}

// StepStatus tags the outcome of one executed step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepOutput is the immutable record of one step's outcome. Outputs are
// appended in step order; after a cancelled record no further steps run.
type StepOutput struct {
	Index  int            `json:"idx"`
	Title  string         `json:"title"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Status StepStatus     `json:"status"`

	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	AuthExpired bool           `json:"auth_expired,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}

// OK reports whether the step completed successfully.
func (o *StepOutput) OK() bool { return o.Status == StepSucceeded }

// Phase is the engine's position in the turn lifecycle. It is persisted so
// that a suspended turn resumes at exactly the point it stopped.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseCapability Phase = "capability"
	PhaseParams     Phase = "params_needed"
	PhaseConfirm    Phase = "confirm"
	PhaseExecute    Phase = "execute"
	PhaseFinalized  Phase = "finalized"
)

// ExecutionState is the mutable machine state for one user turn. It holds
// plain serializable data only, so a suspended turn can cross process
// restarts.
type ExecutionState struct {
	SessionID string `json:"session_id"`
	Namespace string `json:"namespace"`
	UserText  string `json:"user_text"`

	Phase Phase `json:"phase"`

	Plan            []PlanStep `json:"plan,omitempty"`
	CurrentStepIdx  int        `json:"current_step_idx"`
	CurrentStep     *PlanStep  `json:"current_step,omitempty"`
	PendingDecision *Decision  `json:"pending_decision,omitempty"`

	Outputs   []StepOutput `json:"outputs,omitempty"`
	Cancelled bool         `json:"cancelled,omitempty"`
	Error     string       `json:"error,omitempty"`

	CapabilityInquiry  bool   `json:"is_capability_inquiry,omitempty"`
	CapabilityResponse string `json:"capability_response,omitempty"`
	NeedsParams        bool   `json:"needs_params,omitempty"`
	ParamPrompt        string `json:"param_prompt,omitempty"`

	// UI anchoring, reused across suspend/resume so that card updates keep
	// merging into the same logical card.
	AnchorID string `json:"anchor_id,omitempty"`
	CardID   string `json:"card_id,omitempty"`
}

// current returns the in-range current step, or nil. An out-of-range cursor
// always means "no current step", never an error.
func (s *ExecutionState) current() *PlanStep {
	if s.CurrentStepIdx < 0 || s.CurrentStepIdx >= len(s.Plan) {
		return nil
	}
	return &s.Plan[s.CurrentStepIdx]
}

func (s *ExecutionState) appendOutput(out StepOutput) {
	s.Outputs = append(s.Outputs, out)
}

// Marshal serializes the state for the session store.
func (s *ExecutionState) Marshal() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal execution state")
	}
	return raw, nil
}

// UnmarshalExecutionState restores a snapshot produced by Marshal.
func UnmarshalExecutionState(raw []byte) (*ExecutionState, error) {
	var state ExecutionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal execution state")
	}
	return &state, nil
}

// DecisionAction is the human's answer at a confirmation point.
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionSkip    DecisionAction = "skip"
	ActionCancel  DecisionAction = "cancel"
)

// Decision wraps a confirmation answer.
type Decision struct {
	Action DecisionAction `json:"action"`
}

// ParseDecision converts an arbitrary resume payload into a decision. A
// string approve/skip/cancel (case-insensitive), a bool (true=approve,
// false=cancel) and a map carrying a value/action field are accepted;
// anything else resolves to cancel, the most conservative action.
func ParseDecision(value any) Decision {
	switch v := value.(type) {
	case string:
		if action, ok := parseAction(v); ok {
			return Decision{Action: action}
		}
	case bool:
		if v {
			return Decision{Action: ActionApprove}
		}
		return Decision{Action: ActionCancel}
	case Decision:
		return v
	case *Decision:
		if v != nil {
			return *v
		}
	case map[string]any:
		for _, key := range []string{"value", "action"} {
			if s, ok := v[key].(string); ok {
				if action, ok := parseAction(s); ok {
					return Decision{Action: action}
				}
			}
		}
	}
	return Decision{Action: ActionCancel}
}

func parseAction(s string) (DecisionAction, bool) {
	switch DecisionAction(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionSkip:
		return ActionSkip, true
	case ActionCancel:
		return ActionCancel, true
	}
	return "", false
}
