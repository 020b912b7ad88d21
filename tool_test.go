package sitepilot

import (
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestRiskOf(t *testing.T) {
	t.Run("mutating tool names are risky", func(t *testing.T) {
		for _, name := range []string{
			"save_basic_detail",
			"update_site_title",
			"delete_page",
			"create_article",
			"remove_redirect",
			"patch_settings",
		} {
			gt.True(t, RiskOf(name, ""))
		}
	})

	t.Run("read-only tool names are not risky", func(t *testing.T) {
		for _, name := range []string{
			"get_basic_detail",
			"list_pages",
			"fetch_redirects",
		} {
			gt.False(t, RiskOf(name, ""))
		}
	})

	t.Run("description alone can mark a tool risky", func(t *testing.T) {
		gt.True(t, RiskOf("basic_detail", "Saves the site basic settings"))
	})

	t.Run("check is case-insensitive", func(t *testing.T) {
		gt.True(t, RiskOf("Save_Basic_Detail", ""))
		gt.True(t, RiskOf("", "DELETE the page"))
	})
}

func TestToolSpecValidate(t *testing.T) {
	t.Run("valid spec", func(t *testing.T) {
		spec := &ToolSpec{
			Name: "get_basic_detail",
			Parameters: map[string]*Parameter{
				"section": {Name: "section", Type: TypeString},
			},
		}
		gt.NoError(t, spec.Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		spec := &ToolSpec{}
		gt.Error(t, spec.Validate())
	})

	t.Run("nil parameter", func(t *testing.T) {
		spec := &ToolSpec{
			Name:       "get_basic_detail",
			Parameters: map[string]*Parameter{"broken": nil},
		}
		gt.Error(t, spec.Validate())
	})
}

func TestSchemaBrief(t *testing.T) {
	t.Run("properties are sorted", func(t *testing.T) {
		spec := &ToolSpec{
			Name: "run_report",
			Parameters: map[string]*Parameter{
				"metrics":    {Name: "metrics", Type: TypeArray},
				"dimensions": {Name: "dimensions", Type: TypeArray},
			},
			Required: []string{"metrics"},
		}
		brief := spec.Brief()
		gt.Equal(t, brief.Properties, []string{"dimensions", "metrics"})
		gt.Equal(t, brief.Required, []string{"metrics"})
	})

	t.Run("oversized schemas are capped", func(t *testing.T) {
		parameters := map[string]*Parameter{}
		for i := 0; i < 80; i++ {
			name := fmt.Sprintf("p%02d", i)
			parameters[name] = &Parameter{Name: name, Type: TypeString}
		}
		longDesc := ""
		for i := 0; i < 100; i++ {
			longDesc += "0123456789"
		}
		spec := &ToolSpec{
			Name:        "big_tool",
			Parameters:  parameters,
			InputSchema: map[string]any{"description": longDesc},
		}
		brief := spec.Brief()
		gt.Equal(t, len(brief.Properties), 50)
		gt.Equal(t, len(brief.Description), 400)
	})
}
