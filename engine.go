package sitepilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// WorkflowCardName is the UI card name for workflow progress. All updates
// for one turn merge into a single card of this name.
const WorkflowCardName = "mcp_workflow"

// Card status values understood by the renderer.
const (
	CardStatusLoading   = "loading"
	CardStatusRunning   = "running"
	CardStatusConfirm   = "confirm"
	CardStatusDone      = "done"
	CardStatusError     = "error"
	CardStatusCancelled = "cancelled"
)

// TurnStatus is the terminal state of one Run/Resume call.
type TurnStatus string

const (
	// TurnCompleted means the plan ran to the end (individual steps may
	// still have failed or been skipped; see Outputs).
	TurnCompleted TurnStatus = "completed"

	// TurnAwaitingDecision means the turn suspended at a risky step and a
	// Resume call with a decision is expected.
	TurnAwaitingDecision TurnStatus = "awaiting_decision"

	// TurnNeedsParams means execution halted before the first step because
	// required parameters are missing; the user answers in a new turn.
	TurnNeedsParams TurnStatus = "needs_params"

	// TurnCapability means the request was a capability inquiry, answered
	// in text with no steps executed.
	TurnCapability TurnStatus = "capability"

	// TurnCancelled means the user declined at a confirmation point.
	TurnCancelled TurnStatus = "cancelled"

	// TurnFailed means an unexpected invocation failure aborted the
	// remaining plan. The failing step is the last entry in Outputs.
	TurnFailed TurnStatus = "failed"
)

// TurnRequest is the input for one user turn.
type TurnRequest struct {
	// SessionID identifies the conversation. Generated when empty.
	SessionID string

	// Namespace selects the tool group for this workflow.
	Namespace string

	UserText string
	History  []HistoryTurn

	// AnchorID is the conversation message progress cards attach to.
	AnchorID string
}

// Turn is the outcome of a Run or Resume call.
type Turn struct {
	SessionID string
	Status    TurnStatus

	// Message is the user-facing text for this outcome: the completion
	// summary, the confirmation question, the parameter prompt, or the
	// capability answer.
	Message string

	Plan    []PlanStep
	Outputs []StepOutput
	CardID  string

	// Error is the fatal invocation error when Status is TurnFailed.
	Error string
}

// Engine drives a turn through discovery, planning, confirmation and
// execution. One Engine serves many sessions; per-turn state lives in
// ExecutionState and, across suspensions, in the session store.
type Engine struct {
	catalog    *Catalog
	planner    Planner
	invoker    *Invoker
	ui         *UIChannel
	store      Store
	summarizer TextGenerator
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger bound to every turn's context.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStore sets the session store used for suspended turns.
func WithStore(store Store) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// WithUIEmitter sets the sink for progress card updates.
func WithUIEmitter(emitter UIEmitter) EngineOption {
	return func(e *Engine) {
		e.ui = NewUIChannel(emitter)
	}
}

// WithInvoker replaces the default invoker built over the catalog source.
func WithInvoker(invoker *Invoker) EngineOption {
	return func(e *Engine) {
		e.invoker = invoker
	}
}

// WithSummarizer enables the streamed completion summary after a finished
// plan. Without it the counts-only message is used.
func WithSummarizer(gen TextGenerator) EngineOption {
	return func(e *Engine) {
		e.summarizer = gen
	}
}

// New creates an engine over a catalog and a planner.
func New(catalog *Catalog, planner Planner, options ...EngineOption) *Engine {
	e := &Engine{
		catalog: catalog,
		planner: planner,
		ui:      NewUIChannel(nil),
		store:   NewMemoryStore(),
		logger:  defaultLogger,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.invoker == nil {
		e.invoker = NewInvoker(catalog.Source())
	}
	return e
}

// Run executes one user turn from scratch. The returned Turn tells the
// caller whether the turn finished, suspended for a decision, or needs
// more input; a returned error means the turn could not proceed at all.
func (e *Engine) Run(ctx context.Context, req *TurnRequest) (*Turn, error) {
	ctx = ctxWithLogger(ctx, e.logger)
	logger := e.logger

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	state := &ExecutionState{
		SessionID: sessionID,
		Namespace: req.Namespace,
		UserText:  req.UserText,
		Phase:     PhasePlanning,
	}
	card := e.ui.NewCard(WorkflowCardName, req.AnchorID)
	state.CardID = card.ID()
	state.AnchorID = card.AnchorID()

	if err := card.Update(ctx, map[string]any{
		"status": CardStatusLoading,
		"text":   "Planning...",
	}); err != nil {
		logger.Warn("failed to emit planning card", "error", err.Error())
	}

	snapshot, err := e.catalog.Discover(ctx, req.Namespace)
	if err != nil {
		e.failCard(ctx, card, "No tools are available right now.")
		return nil, err
	}

	result, err := e.planner.ClassifyAndPlan(ctx, &PlanRequest{
		UserText: req.UserText,
		History:  WindowHistory(req.History),
		Snapshot: snapshot,
	})
	if err != nil {
		e.failCard(ctx, card, "I could not work out a plan for that request.")
		return nil, err
	}

	if result.Intent == IntentCapability {
		state.Phase = PhaseCapability
		state.CapabilityInquiry = true
		msg := result.CapabilityResponse
		if msg == "" {
			msg = capabilityAnswer(snapshot)
		}
		state.CapabilityResponse = msg
		e.closeCard(ctx, card, CardStatusDone, msg, nil)
		return &Turn{
			SessionID: sessionID,
			Status:    TurnCapability,
			Message:   msg,
			CardID:    card.ID(),
		}, nil
	}

	plan := BuildPlan(ctx, snapshot, result.Steps)

	if needy := MissingParams(plan); len(needy) > 0 {
		state.Phase = PhaseParams
		state.NeedsParams = true
		prompt := result.ParamPrompt
		if prompt == "" {
			prompt = ParamPromptFor(needy)
		}
		state.ParamPrompt = prompt
		e.closeCard(ctx, card, CardStatusDone, prompt, nil)
		return &Turn{
			SessionID: sessionID,
			Status:    TurnNeedsParams,
			Message:   prompt,
			Plan:      plan,
			CardID:    card.ID(),
		}, nil
	}

	state.Plan = plan
	state.Phase = PhaseExecute
	if err := card.Update(ctx, map[string]any{
		"status": CardStatusRunning,
		"text":   "Executing the plan",
		"steps":  PlanBrief(plan),
	}); err != nil {
		logger.Warn("failed to emit plan card", "error", err.Error())
	}

	return e.runSteps(ctx, state, snapshot, card)
}

// Resume continues a suspended turn with the user's decision. The decision
// payload is parsed leniently; anything unrecognizable cancels.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision any) (*Turn, error) {
	ctx = ctxWithLogger(ctx, e.logger)

	raw, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := UnmarshalExecutionState(raw)
	if err != nil {
		return nil, err
	}
	if state.Phase != PhaseConfirm {
		return nil, goerr.Wrap(ErrNotSuspended, "session is not awaiting a decision",
			goerr.V("session_id", sessionID), goerr.V("phase", string(state.Phase)))
	}
	if err := e.store.Delete(ctx, sessionID); err != nil {
		e.logger.Warn("failed to drop session snapshot", "error", err.Error())
	}

	d := ParseDecision(decision)
	state.PendingDecision = &d
	state.Phase = PhaseExecute

	snapshot, err := e.catalog.Discover(ctx, state.Namespace)
	if err != nil {
		return nil, err
	}
	card := e.ui.AttachCard(WorkflowCardName, state.CardID, state.AnchorID)
	return e.runSteps(ctx, state, snapshot, card)
}

// runSteps drives the confirm/execute loop from the current cursor to
// completion, suspension, or a fatal invocation error.
func (e *Engine) runSteps(ctx context.Context, state *ExecutionState, snapshot *Snapshot, card *Card) (*Turn, error) {
	logger := LoggerFromContext(ctx)

	for {
		if state.Cancelled {
			return e.finalize(ctx, state, card)
		}
		step := state.current()
		if step == nil {
			return e.finalize(ctx, state, card)
		}

		decision := Decision{Action: ActionApprove}
		if step.Risky {
			if state.PendingDecision == nil {
				return e.suspend(ctx, state, card, step)
			}
			decision = *state.PendingDecision
			state.PendingDecision = nil
		}

		switch decision.Action {
		case ActionCancel:
			state.appendOutput(StepOutput{
				Index:  state.CurrentStepIdx,
				Title:  step.Title,
				Tool:   step.Tool,
				Args:   step.Args,
				Status: StepCancelled,
			})
			state.Cancelled = true
			continue

		case ActionSkip:
			logger.Info("step skipped by user", "step", step.Title)
			state.appendOutput(StepOutput{
				Index:  state.CurrentStepIdx,
				Title:  step.Title,
				Tool:   step.Tool,
				Args:   step.Args,
				Status: StepSkipped,
			})
			state.CurrentStepIdx++
			continue
		}

		if err := card.Update(ctx, map[string]any{
			"status":      CardStatusRunning,
			"active_step": step.Title,
		}); err != nil {
			logger.Warn("failed to emit step card", "error", err.Error())
		}

		// The snapshot may have refreshed between suspension and resume;
		// a step whose tool vanished from the catalog cannot run.
		spec := snapshot.Find(step.Tool)
		if spec == nil {
			return e.abort(ctx, state, card, step,
				goerr.Wrap(ErrToolNotFound, "step references a missing tool",
					goerr.V("step", step.Title), goerr.V("tool", step.Tool)))
		}

		result, err := e.invoker.Invoke(ctx, state.Namespace, spec, step.Tool, step.Args)
		if err != nil {
			return e.abort(ctx, state, card, step,
				goerr.Wrap(err, "step execution aborted",
					goerr.V("step", step.Title), goerr.V("idx", state.CurrentStepIdx)))
		}

		output := StepOutput{
			Index:       state.CurrentStepIdx,
			Title:       step.Title,
			Tool:        step.Tool,
			Args:        step.Args,
			Status:      StepSucceeded,
			Result:      result.Result,
			DurationMS:  result.DurationMS,
			AuthExpired: result.AuthExpired,
		}
		if !result.OK() {
			output.Status = StepFailed
			output.Error = result.Err
			logger.Warn("step failed, continuing with remaining steps",
				"step", step.Title, "error", result.Err, "auth_expired", result.AuthExpired)
		}
		state.appendOutput(output)
		if err := card.Update(ctx, map[string]any{
			"results": resultLog(state.Outputs),
		}); err != nil {
			logger.Warn("failed to emit result card", "error", err.Error())
		}
		state.CurrentStepIdx++
	}
}

// suspend persists the state and hands control back to the human. The skip
// option is offered only when the step is not the sole remaining one.
func (e *Engine) suspend(ctx context.Context, state *ExecutionState, card *Card, step *PlanStep) (*Turn, error) {
	state.Phase = PhaseConfirm
	state.CurrentStep = step

	raw, err := state.Marshal()
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, state.SessionID, raw); err != nil {
		return nil, goerr.Wrap(err, "failed to persist suspended turn",
			goerr.V("session_id", state.SessionID))
	}

	options := []string{string(ActionApprove), string(ActionCancel)}
	if state.CurrentStepIdx < len(state.Plan)-1 {
		options = []string{string(ActionApprove), string(ActionSkip), string(ActionCancel)}
	}
	prompt := fmt.Sprintf("The step %q will modify data. Proceed?", step.Title)
	if err := card.Update(ctx, map[string]any{
		"status":      CardStatusConfirm,
		"active_step": step.Title,
		"text":        prompt,
		"options":     options,
	}); err != nil {
		LoggerFromContext(ctx).Warn("failed to emit confirm card", "error", err.Error())
	}

	return &Turn{
		SessionID: state.SessionID,
		Status:    TurnAwaitingDecision,
		Message:   prompt,
		Plan:      state.Plan,
		Outputs:   state.Outputs,
		CardID:    card.ID(),
	}, nil
}

// abort records a fatal invocation failure and closes the turn through
// finalize. The failing step gets a failed output and the remaining plan
// never runs.
func (e *Engine) abort(ctx context.Context, state *ExecutionState, card *Card, step *PlanStep, err error) (*Turn, error) {
	LoggerFromContext(ctx).Error("step execution aborted",
		"step", step.Title, "error", err.Error())
	state.appendOutput(StepOutput{
		Index:  state.CurrentStepIdx,
		Title:  step.Title,
		Tool:   step.Tool,
		Args:   step.Args,
		Status: StepFailed,
		Error:  err.Error(),
	})
	state.Error = err.Error()
	return e.finalize(ctx, state, card)
}

// finalize closes the turn exactly once: counts summary, final card, and
// the optional streamed completion message.
func (e *Engine) finalize(ctx context.Context, state *ExecutionState, card *Card) (*Turn, error) {
	logger := LoggerFromContext(ctx)
	if state.Phase == PhaseFinalized {
		return nil, goerr.New("turn already finalized",
			goerr.V("session_id", state.SessionID))
	}
	state.Phase = PhaseFinalized
	if err := e.store.Delete(ctx, state.SessionID); err != nil {
		logger.Warn("failed to drop session snapshot", "error", err.Error())
	}

	succeeded, skipped := 0, 0
	authExpired := false
	for i := range state.Outputs {
		switch state.Outputs[i].Status {
		case StepSucceeded:
			succeeded++
		case StepSkipped:
			skipped++
		}
		if state.Outputs[i].AuthExpired {
			authExpired = true
		}
	}

	status := TurnCompleted
	cardStatus := CardStatusDone
	var message string
	switch {
	case state.Error != "":
		status = TurnFailed
		cardStatus = CardStatusError
		message = fmt.Sprintf("Execution stopped after an unexpected failure. Completed %d/%d steps.",
			succeeded, len(state.Plan))
	case state.Cancelled:
		status = TurnCancelled
		cardStatus = CardStatusCancelled
		message = "Cancelled. Nothing further was changed."
	case skipped > 0:
		message = fmt.Sprintf("Completed %d/%d steps, skipped %d.",
			succeeded, len(state.Plan), skipped)
	default:
		message = fmt.Sprintf("Completed %d/%d steps.", succeeded, len(state.Plan))
	}

	props := map[string]any{
		"status":  cardStatus,
		"text":    message,
		"results": resultLog(state.Outputs),
	}
	if authExpired {
		props["auth_expired"] = true
		message += " The connected account needs to be re-authenticated."
		props["text"] = message
	}
	e.closeCard(ctx, card, cardStatus, message, props)

	if status == TurnCompleted && e.summarizer != nil && succeeded > 0 {
		if summary := e.streamSummary(ctx, state, card); summary != "" {
			message = summary
		}
	}

	return &Turn{
		SessionID: state.SessionID,
		Status:    status,
		Message:   message,
		Plan:      state.Plan,
		Outputs:   state.Outputs,
		CardID:    card.ID(),
		Error:     state.Error,
	}, nil
}

// streamSummary asks the summarizer for a short completion message and
// streams it into the card as it arrives. Failures fall back to the
// counts-only message silently.
func (e *Engine) streamSummary(ctx context.Context, state *ExecutionState, card *Card) string {
	logger := LoggerFromContext(ctx)

	var b strings.Builder
	b.WriteString("Write one short, friendly message confirming what was just done for the user.\n")
	b.WriteString("Request: ")
	b.WriteString(state.UserText)
	b.WriteString("\nSteps:\n")
	for _, out := range state.Outputs {
		fmt.Fprintf(&b, "- %s: %s\n", out.Title, out.Status)
	}

	var acc strings.Builder
	err := e.summarizer.Stream(ctx, b.String(), func(chunk string) error {
		acc.WriteString(chunk)
		return card.Update(ctx, map[string]any{"summary": acc.String()})
	})
	if err != nil {
		logger.Warn("completion summary failed", "error", err.Error())
		return ""
	}
	return strings.TrimSpace(acc.String())
}

func (e *Engine) failCard(ctx context.Context, card *Card, text string) {
	if err := card.Update(ctx, map[string]any{
		"status": CardStatusError,
		"text":   text,
	}); err != nil {
		LoggerFromContext(ctx).Warn("failed to emit error card", "error", err.Error())
	}
}

func (e *Engine) closeCard(ctx context.Context, card *Card, status, text string, props map[string]any) {
	if props == nil {
		props = map[string]any{"status": status, "text": text}
	}
	if err := card.Update(ctx, props); err != nil {
		LoggerFromContext(ctx).Warn("failed to emit final card", "error", err.Error())
	}
}

// resultLog renders the per-step outcome list shown on the card.
func resultLog(outputs []StepOutput) []map[string]any {
	log := make([]map[string]any, len(outputs))
	for i, out := range outputs {
		entry := map[string]any{
			"title":  out.Title,
			"status": string(out.Status),
		}
		if out.Error != "" {
			entry["error"] = out.Error
		}
		if out.AuthExpired {
			entry["auth_expired"] = true
		}
		log[i] = entry
	}
	return log
}

func capabilityAnswer(snapshot *Snapshot) string {
	names := snapshot.Names()
	return "I can run these site operations for you: " + strings.Join(names, ", ") + "."
}
