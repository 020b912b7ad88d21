package sitepilot

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Namespace: "shortcut",
		Tools: []ToolSpec{
			{Name: "get_basic_detail", Description: "Reads the site basic detail"},
			{Name: "save_basic_detail", Description: "Saves the site basic detail"},
		},
	}
}

func TestBuildPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("steps naming unknown tools are dropped", func(t *testing.T) {
		plan := BuildPlan(ctx, testSnapshot(), []PlanStep{
			{Title: "Fetch", Tool: "get_basic_detail"},
			{Title: "Imaginary", Tool: "teleport_site"},
		})
		gt.Equal(t, len(plan), 1)
		gt.Equal(t, plan[0].Tool, "get_basic_detail")
	})

	t.Run("empty plan falls back to the first tool", func(t *testing.T) {
		plan := BuildPlan(ctx, testSnapshot(), []PlanStep{
			{Title: "Imaginary", Tool: "teleport_site"},
		})
		gt.Equal(t, len(plan), 1)
		gt.Equal(t, plan[0].Tool, "get_basic_detail")
		gt.Equal(t, len(plan[0].Args), 0)
	})

	t.Run("risk flag is recomputed, never trusted", func(t *testing.T) {
		plan := BuildPlan(ctx, testSnapshot(), []PlanStep{
			{Title: "Save", Tool: "save_basic_detail", Risky: false},
			{Title: "Fetch", Tool: "get_basic_detail", Risky: true},
		})
		gt.True(t, plan[0].Risky)
		gt.False(t, plan[1].Risky)
	})

	t.Run("planner args are alias-normalized", func(t *testing.T) {
		plan := BuildPlan(ctx, testSnapshot(), []PlanStep{
			{Tool: "get_basic_detail", Args: map[string]any{"propertyId": "1"}},
		})
		gt.Equal(t, plan[0].Args["property_id"], "1")
	})

	t.Run("missing title defaults to the tool name", func(t *testing.T) {
		plan := BuildPlan(ctx, testSnapshot(), []PlanStep{{Tool: "get_basic_detail"}})
		gt.Equal(t, plan[0].Title, "get_basic_detail")
	})
}

func TestMissingParams(t *testing.T) {
	plan := []PlanStep{
		{Title: "Fetch", Tool: "get_basic_detail"},
		{Title: "Save", Tool: "save_basic_detail",
			NeedsParams: true, MissingParams: []string{"title"}},
	}

	needy := MissingParams(plan)
	gt.Equal(t, len(needy), 1)
	gt.Equal(t, needy[0].Title, "Save")

	prompt := ParamPromptFor(needy)
	gt.S(t, prompt).Contains("Save")
	gt.S(t, prompt).Contains("title")
}

func TestWindowHistory(t *testing.T) {
	t.Run("at most eight turns are kept", func(t *testing.T) {
		var history []HistoryTurn
		for i := 0; i < 12; i++ {
			history = append(history, HistoryTurn{Role: "user", Text: "turn"})
		}
		gt.Equal(t, len(WindowHistory(history)), 8)
	})

	t.Run("oldest turns are truncated first over the char budget", func(t *testing.T) {
		history := []HistoryTurn{
			{Role: "user", Text: strings.Repeat("a", 1500)},
			{Role: "assistant", Text: strings.Repeat("b", 1500)},
		}
		windowed := WindowHistory(history)

		total := 0
		for _, turn := range windowed {
			total += len(turn.Text)
		}
		gt.Equal(t, total, 2000)
		gt.Equal(t, windowed[len(windowed)-1].Text, strings.Repeat("b", 1500))
	})

	t.Run("fully truncated turns are removed", func(t *testing.T) {
		history := []HistoryTurn{
			{Role: "user", Text: strings.Repeat("a", 100)},
			{Role: "assistant", Text: strings.Repeat("b", 2000)},
		}
		windowed := WindowHistory(history)
		gt.Equal(t, len(windowed), 1)
		gt.Equal(t, windowed[0].Role, "assistant")
	})

	t.Run("small histories pass unchanged", func(t *testing.T) {
		history := []HistoryTurn{{Role: "user", Text: "hello"}}
		gt.Equal(t, WindowHistory(history), history)
	})
}

func TestPlanBrief(t *testing.T) {
	brief := PlanBrief([]PlanStep{
		{Title: "Fetch settings"},
		{Title: "Save title", Risky: true},
	})
	gt.S(t, brief).Contains("1. Fetch settings")
	gt.S(t, brief).Contains("2. Save title (requires confirmation)")
}
