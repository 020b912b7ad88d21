package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	sitepilot "github.com/m-mizutani/sitepilot"
)

// CardName is the UI card for report progress and streamed insights.
const CardName = "report_insights"

// DefaultNamespace is the tool namespace for analytics queries.
const DefaultNamespace = "report"

// DefaultWindowDays is the fallback reporting window when no query names
// one.
const DefaultWindowDays = 7

// Status is the terminal state of one pipeline call.
type Status string

const (
	// StatusAwaitingConfirm means the evidence pack is ready and insight
	// generation waits for the user's go-ahead.
	StatusAwaitingConfirm Status = "awaiting_confirm"

	// StatusCompleted means insights were generated and streamed.
	StatusCompleted Status = "completed"

	// StatusCancelled means the user declined insight generation; the
	// evidence pack still stands.
	StatusCancelled Status = "cancelled"

	// StatusAuthExpired means an analytics query failed on an expired
	// authorization; the user must re-connect the account first.
	StatusAuthExpired Status = "auth_expired"
)

// Request is the input for one report run.
type Request struct {
	// SessionID identifies the conversation. Generated when empty.
	SessionID string

	UserText string

	// AnchorID is the conversation message the insight card attaches to.
	AnchorID string
}

// Result is the outcome of a Run or Resume call.
type Result struct {
	SessionID string
	Status    Status
	Pack      *Pack

	// Insights is the generated narrative, set when Status is completed.
	Insights string

	Message string
	CardID  string
}

// Pipeline runs the analytics report flow: plan and execute read-only
// queries, build a fact-only evidence pack, and stream an LLM insight
// narrative over it once the user confirms. Queries are never individually
// confirmed; the single confirmation covers the LLM pass.
type Pipeline struct {
	catalog  *sitepilot.Catalog
	planner  sitepilot.Planner
	invoker  *sitepilot.Invoker
	ui       *sitepilot.UIChannel
	store    sitepilot.Store
	insights sitepilot.TextGenerator

	namespace  string
	windowDays int
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger bound to every run's context.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithStore sets the session store used between pack and confirmation.
func WithStore(store sitepilot.Store) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithUIEmitter sets the sink for card updates.
func WithUIEmitter(emitter sitepilot.UIEmitter) Option {
	return func(p *Pipeline) {
		p.ui = sitepilot.NewUIChannel(emitter)
	}
}

// WithInvoker replaces the default invoker built over the catalog source.
func WithInvoker(invoker *sitepilot.Invoker) Option {
	return func(p *Pipeline) {
		p.invoker = invoker
	}
}

// WithNamespace overrides the analytics tool namespace.
func WithNamespace(namespace string) Option {
	return func(p *Pipeline) {
		p.namespace = namespace
	}
}

// WithWindowDays overrides the fallback reporting window.
func WithWindowDays(days int) Option {
	return func(p *Pipeline) {
		p.windowDays = days
	}
}

// New creates a pipeline over a catalog, a planner, and the insight
// generator.
func New(catalog *sitepilot.Catalog, planner sitepilot.Planner, insights sitepilot.TextGenerator, options ...Option) *Pipeline {
	p := &Pipeline{
		catalog:    catalog,
		planner:    planner,
		insights:   insights,
		ui:         sitepilot.NewUIChannel(nil),
		store:      sitepilot.NewMemoryStore(),
		namespace:  DefaultNamespace,
		windowDays: DefaultWindowDays,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.invoker == nil {
		p.invoker = sitepilot.NewInvoker(catalog.Source())
	}
	return p
}

// suspendedRun is the state persisted between the evidence pack and the
// user's confirmation.
type suspendedRun struct {
	SessionID string `json:"session_id"`
	UserText  string `json:"user_text"`
	AnchorID  string `json:"anchor_id"`
	CardID    string `json:"card_id"`
	Pack      *Pack  `json:"pack"`
}

// Run executes the analytics queries, builds the evidence pack, and
// suspends for the macro confirmation.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	logger := p.logger

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	card := p.ui.NewCard(CardName, req.AnchorID)

	if err := card.Update(ctx, map[string]any{
		"status": "loading",
		"text":   "Collecting analytics data...",
	}); err != nil {
		logger.Warn("failed to emit loading card", "error", err.Error())
	}

	snapshot, err := p.catalog.Discover(ctx, p.namespace)
	if err != nil {
		return nil, err
	}
	planned, err := p.planner.ClassifyAndPlan(ctx, &sitepilot.PlanRequest{
		UserText: req.UserText,
		Snapshot: snapshot,
	})
	if err != nil {
		return nil, err
	}
	plan := sitepilot.BuildPlan(ctx, snapshot, planned.Steps)

	var raws []RawQuery
	for _, step := range plan {
		result, err := p.invoker.Invoke(ctx, p.namespace, snapshot.Find(step.Tool), step.Tool, step.Args)
		if err != nil {
			return nil, goerr.Wrap(err, "analytics query aborted", goerr.V("tool", step.Tool))
		}
		if errors.Is(result.AsError(), sitepilot.ErrAuthExpired) {
			msg := "The analytics account connection has expired. Please re-authenticate and try again."
			if err := card.Update(ctx, map[string]any{
				"status":       "error",
				"auth_expired": true,
				"text":         msg,
			}); err != nil {
				logger.Warn("failed to emit auth card", "error", err.Error())
			}
			return &Result{
				SessionID: sessionID,
				Status:    StatusAuthExpired,
				Message:   msg,
				CardID:    card.ID(),
			}, nil
		}
		if result.Err != "" {
			logger.Warn("analytics query failed, stopping further queries",
				"tool", step.Tool, "error", result.Err)
			raws = append(raws, RawQuery{
				Desc: step.Title, Tool: step.Tool, Args: step.Args,
				Result: map[string]any{"error": result.Err},
			})
			break
		}
		raws = append(raws, RawQuery{
			Desc: step.Title, Tool: step.Tool, Args: step.Args,
			Result: result.Result,
		})
	}

	pack := BuildPack(raws, p.windowDays)

	state := &suspendedRun{
		SessionID: sessionID,
		UserText:  req.UserText,
		AnchorID:  card.AnchorID(),
		CardID:    card.ID(),
		Pack:      pack,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal suspended report run")
	}
	if err := p.store.Save(ctx, sessionID, raw); err != nil {
		return nil, goerr.Wrap(err, "failed to persist suspended report run",
			goerr.V("session_id", sessionID))
	}

	prompt := "The data is ready. Generate the AI analysis?"
	if err := card.Update(ctx, map[string]any{
		"status":   "confirm",
		"text":     prompt,
		"evidence": pack.ToMap(),
	}); err != nil {
		logger.Warn("failed to emit confirm card", "error", err.Error())
	}

	return &Result{
		SessionID: sessionID,
		Status:    StatusAwaitingConfirm,
		Pack:      pack,
		Message:   prompt,
		CardID:    card.ID(),
	}, nil
}

// Resume continues a suspended run with the user's decision. Approval
// streams the insight narrative into the card; anything else cancels.
func (p *Pipeline) Resume(ctx context.Context, sessionID string, decision any) (*Result, error) {
	logger := p.logger

	raw, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var state suspendedRun
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal suspended report run")
	}
	if err := p.store.Delete(ctx, sessionID); err != nil {
		logger.Warn("failed to drop report snapshot", "error", err.Error())
	}

	card := p.ui.AttachCard(CardName, state.CardID, state.AnchorID)

	if d := sitepilot.ParseDecision(decision); d.Action != sitepilot.ActionApprove {
		msg := "Understood, skipping the AI analysis."
		if err := card.Update(ctx, map[string]any{
			"status": "cancelled",
			"text":   msg,
		}); err != nil {
			logger.Warn("failed to emit cancel card", "error", err.Error())
		}
		return &Result{
			SessionID: sessionID,
			Status:    StatusCancelled,
			Pack:      state.Pack,
			Message:   msg,
			CardID:    card.ID(),
		}, nil
	}

	insights, err := p.streamInsights(ctx, card, state.UserText, state.Pack)
	if err != nil {
		return nil, err
	}

	if err := card.Update(ctx, map[string]any{
		"status":      "done",
		"description": insights,
	}); err != nil {
		logger.Warn("failed to emit final card", "error", err.Error())
	}
	return &Result{
		SessionID: sessionID,
		Status:    StatusCompleted,
		Pack:      state.Pack,
		Insights:  insights,
		Message:   insights,
		CardID:    card.ID(),
	}, nil
}

// streamInsights generates the narrative over the evidence pack, updating
// the card as chunks arrive.
func (p *Pipeline) streamInsights(ctx context.Context, card *sitepilot.Card, userText string, pack *Pack) (string, error) {
	evidence, err := json.Marshal(pack.ToMap())
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode evidence pack")
	}

	var b strings.Builder
	b.WriteString("Write a short site analytics insight for the user.\n")
	b.WriteString("Only state what the evidence supports; do not invent causes.\n")
	b.WriteString("Request: ")
	b.WriteString(userText)
	b.WriteString("\nEvidence:\n")
	b.Write(evidence)

	var acc strings.Builder
	err = p.insights.Stream(ctx, b.String(), func(chunk string) error {
		acc.WriteString(chunk)
		return card.Update(ctx, map[string]any{
			"status":      "running",
			"description": acc.String(),
		})
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to stream insights")
	}
	return strings.TrimSpace(acc.String()), nil
}
