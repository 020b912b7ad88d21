package sitepilot

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// UIMessage is one named, versioned notification for a renderer. Two
// messages with the same (Name, ID) are sequential revisions of the same
// visual card; when Merge is set, the consumer applies Props as a shallow
// merge-patch over the previously rendered props.
type UIMessage struct {
	Name     string         `json:"name"`
	ID       string         `json:"id"`
	AnchorID string         `json:"anchor_id,omitempty"`
	Props    map[string]any `json:"props"`
	Merge    bool           `json:"merge,omitempty"`
}

// UIEmitter receives UI messages as they are produced. Implementations must
// tolerate being called from a single goroutine per turn; emissions for one
// card id arrive in order.
type UIEmitter interface {
	EmitUI(ctx context.Context, msg UIMessage) error
}

// UIEmitterFunc adapts a function to the UIEmitter interface.
type UIEmitterFunc func(ctx context.Context, msg UIMessage) error

func (f UIEmitterFunc) EmitUI(ctx context.Context, msg UIMessage) error {
	return f(ctx, msg)
}

type discardEmitter struct{}

func (discardEmitter) EmitUI(ctx context.Context, msg UIMessage) error { return nil }

// UIChannel constructs and dispatches card updates. Emission is strictly
// sequential within one logical turn; there are never concurrent writers to
// the same card id.
type UIChannel struct {
	emitter UIEmitter
}

// NewUIChannel creates a channel that forwards messages to the given
// emitter. A nil emitter discards all messages.
func NewUIChannel(emitter UIEmitter) *UIChannel {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	return &UIChannel{emitter: emitter}
}

// CardID derives the default stable id for a card: repeated emits for "the
// same card" collapse to one logical entity on the consumer side.
func CardID(name, anchorID string) string {
	return name + "/" + anchorID
}

// Emit constructs one update and immediately dispatches it. An empty id
// defaults to the deterministic composite of name and anchor.
func (c *UIChannel) Emit(ctx context.Context, name, id, anchorID string, props map[string]any, merge bool) (UIMessage, error) {
	if id == "" {
		id = CardID(name, anchorID)
	}
	msg := UIMessage{
		Name:     name,
		ID:       id,
		AnchorID: anchorID,
		Props:    props,
		Merge:    merge,
	}
	if err := c.emitter.EmitUI(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Card is a handle for progressive updates to a single logical card.
type Card struct {
	channel  *UIChannel
	name     string
	id       string
	anchorID string
}

// NewCard opens a card handle. When anchorID is empty a fresh anchor is
// generated so the card still has a stable identity.
func (c *UIChannel) NewCard(name, anchorID string) *Card {
	if anchorID == "" {
		anchorID = uuid.New().String()
	}
	return &Card{
		channel:  c,
		name:     name,
		id:       CardID(name, anchorID),
		anchorID: anchorID,
	}
}

// AttachCard reopens an existing card identity, e.g. after resuming a
// suspended turn.
func (c *UIChannel) AttachCard(name, id, anchorID string) *Card {
	if id == "" {
		id = CardID(name, anchorID)
	}
	return &Card{channel: c, name: name, id: id, anchorID: anchorID}
}

// ID returns the stable card id.
func (c *Card) ID() string { return c.id }

// AnchorID returns the conversation message the card is attached to.
func (c *Card) AnchorID() string { return c.anchorID }

// Update emits a merge-patch revision of the card.
func (c *Card) Update(ctx context.Context, props map[string]any) error {
	_, err := c.channel.Emit(ctx, c.name, c.id, c.anchorID, props, true)
	return err
}

// Replace emits a full-replace revision of the card.
func (c *Card) Replace(ctx context.Context, props map[string]any) error {
	_, err := c.channel.Emit(ctx, c.name, c.id, c.anchorID, props, false)
	return err
}

// MergeProps applies patch onto prev as a shallow merge: keys absent from
// patch keep their previous value. Neither input is mutated.
func MergeProps(prev, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(prev)+len(patch))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// UIRecorder is a UIEmitter that keeps every emission and replays merges
// the way a renderer is expected to. It is used by tests and embedders
// that need the final rendered props of each card.
type UIRecorder struct {
	mu       sync.Mutex
	messages []UIMessage
	rendered map[string]map[string]any
}

// NewUIRecorder creates an empty recorder.
func NewUIRecorder() *UIRecorder {
	return &UIRecorder{rendered: map[string]map[string]any{}}
}

func (r *UIRecorder) EmitUI(ctx context.Context, msg UIMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	key := msg.Name + "\x00" + msg.ID
	if msg.Merge {
		r.rendered[key] = MergeProps(r.rendered[key], msg.Props)
	} else {
		r.rendered[key] = MergeProps(nil, msg.Props)
	}
	return nil
}

// Messages returns all emissions in order.
func (r *UIRecorder) Messages() []UIMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UIMessage{}, r.messages...)
}

// Rendered returns the final merged props for a card, or nil.
func (r *UIRecorder) Rendered(name, id string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered[name+"\x00"+id]
}
