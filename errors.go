package sitepilot

import "errors"

var (
	// ErrDiscovery means the tool catalog could not be fetched or came back
	// empty. It is fatal for the current turn; no plan is attempted.
	ErrDiscovery = errors.New("tool discovery failed")

	// ErrPlanning means the planner returned no usable steps even after the
	// single-step fallback. The turn ends without execution.
	ErrPlanning = errors.New("planning produced no usable steps")

	// ErrAuthExpired marks a tool result classified as a credential expiry.
	// It is step-local: the plan continues, but the final summary surfaces a
	// re-authenticate affordance.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrToolNotFound means the invoked tool is not part of the catalog
	// snapshot the plan was generated against.
	ErrToolNotFound = errors.New("tool not found in catalog")

	// ErrSessionNotFound is returned by Resume when no suspended state
	// exists for the given session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotSuspended is returned by Resume when the stored state is not
	// waiting for a decision.
	ErrNotSuspended = errors.New("session is not awaiting a decision")

	ErrInvalidTool        = errors.New("invalid tool specification")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrInvalidInputSchema = errors.New("invalid input schema")
)
