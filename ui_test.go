package sitepilot

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestCardID(t *testing.T) {
	gt.Equal(t, CardID("mcp_workflow", "anchor-1"), "mcp_workflow/anchor-1")
}

func TestUIChannelEmit(t *testing.T) {
	recorder := NewUIRecorder()
	channel := NewUIChannel(recorder)
	ctx := context.Background()

	t.Run("empty id defaults to the composite", func(t *testing.T) {
		msg, err := channel.Emit(ctx, "mcp_workflow", "", "anchor-1",
			map[string]any{"status": "loading"}, true)
		gt.NoError(t, err)
		gt.Equal(t, msg.ID, "mcp_workflow/anchor-1")
	})

	t.Run("messages keep emission order", func(t *testing.T) {
		_, err := channel.Emit(ctx, "mcp_workflow", "", "anchor-1",
			map[string]any{"status": "running"}, true)
		gt.NoError(t, err)

		messages := recorder.Messages()
		gt.Equal(t, len(messages), 2)
		gt.Equal(t, messages[0].Props["status"], "loading")
		gt.Equal(t, messages[1].Props["status"], "running")
	})
}

func TestCardMerge(t *testing.T) {
	recorder := NewUIRecorder()
	channel := NewUIChannel(recorder)
	ctx := context.Background()

	card := channel.NewCard("mcp_workflow", "anchor-1")
	gt.Equal(t, card.ID(), "mcp_workflow/anchor-1")

	gt.NoError(t, card.Update(ctx, map[string]any{
		"status": "running",
		"steps":  "1. Fetch settings",
	}))
	gt.NoError(t, card.Update(ctx, map[string]any{
		"status":      "running",
		"active_step": "Fetch settings",
	}))

	t.Run("merge keeps earlier props", func(t *testing.T) {
		rendered := recorder.Rendered("mcp_workflow", card.ID())
		gt.Equal(t, rendered["steps"], "1. Fetch settings")
		gt.Equal(t, rendered["active_step"], "Fetch settings")
	})

	t.Run("replace drops earlier props", func(t *testing.T) {
		gt.NoError(t, card.Replace(ctx, map[string]any{"status": "done"}))
		rendered := recorder.Rendered("mcp_workflow", card.ID())
		gt.Equal(t, rendered["status"], "done")
		_, ok := rendered["steps"]
		gt.False(t, ok)
	})

	t.Run("attach reopens the same identity", func(t *testing.T) {
		reopened := channel.AttachCard("mcp_workflow", card.ID(), card.AnchorID())
		gt.NoError(t, reopened.Update(ctx, map[string]any{"text": "after resume"}))
		rendered := recorder.Rendered("mcp_workflow", card.ID())
		gt.Equal(t, rendered["text"], "after resume")
		gt.Equal(t, rendered["status"], "done")
	})
}

func TestCardGeneratedAnchor(t *testing.T) {
	channel := NewUIChannel(nil)
	card := channel.NewCard("mcp_workflow", "")
	gt.True(t, card.AnchorID() != "")
	gt.Equal(t, card.ID(), CardID("mcp_workflow", card.AnchorID()))
}

func TestMergeProps(t *testing.T) {
	prev := map[string]any{"a": 1, "b": 2}
	patch := map[string]any{"b": 3, "c": 4}

	merged := MergeProps(prev, patch)
	gt.Equal(t, merged, map[string]any{"a": 1, "b": 3, "c": 4})

	t.Run("inputs are not mutated", func(t *testing.T) {
		gt.Equal(t, prev["b"], 2)
		_, ok := patch["a"]
		gt.False(t, ok)
	})

	t.Run("nil prev behaves as empty", func(t *testing.T) {
		gt.Equal(t, MergeProps(nil, patch), map[string]any{"b": 3, "c": 4})
	})
}
