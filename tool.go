package sitepilot

import (
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ToolSpec describes one externally callable operation discovered from a
// tool backend. Name is unique within a catalog namespace.
type ToolSpec struct {
	// Name is the operation code used to invoke the tool.
	Name string

	// Description is a human-readable description of what the tool does.
	Description string

	// Parameters defines the input parameters declared by the tool.
	Parameters map[string]*Parameter

	// Required is the list of required parameter names.
	Required []string

	// InputSchema keeps the raw JSON-schema-like mapping as reported by the
	// backend. It is passed through for renderers and debugging; argument
	// filtering uses Parameters/Required.
	InputSchema map[string]any
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s.Name))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}
	for name, param := range s.Parameters {
		if param == nil {
			return eb.Wrap(ErrInvalidParameter, "nil parameter", goerr.V("parameter", name))
		}
	}
	return nil
}

const (
	maxBriefProperties  = 50
	maxBriefDescription = 400
)

// SchemaBrief is the compact schema summary handed to the planner. Full
// schemas can be large; the brief keeps prompt size bounded.
type SchemaBrief struct {
	Properties  []string `json:"properties,omitempty"`
	Required    []string `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Brief compacts the tool's input schema for plan generation.
func (s *ToolSpec) Brief() SchemaBrief {
	brief := SchemaBrief{}
	for name := range s.Parameters {
		brief.Properties = append(brief.Properties, name)
	}
	sort.Strings(brief.Properties)
	if len(brief.Properties) > maxBriefProperties {
		brief.Properties = brief.Properties[:maxBriefProperties]
	}
	if len(s.Required) > maxBriefProperties {
		brief.Required = append([]string{}, s.Required[:maxBriefProperties]...)
	} else {
		brief.Required = append([]string{}, s.Required...)
	}
	if desc, ok := s.InputSchema["description"].(string); ok {
		if len(desc) > maxBriefDescription {
			desc = desc[:maxBriefDescription]
		}
		brief.Description = desc
	}
	return brief
}

// riskyTokens are the mutation verbs that mark a tool as data-mutating.
// The check is deterministic so that risk gating is reproducible without
// any LLM call.
var riskyTokens = []string{
	"set", "update", "save", "delete", "remove",
	"create", "patch", "post", "put", "write",
}

// IsRisky reports whether the tool mutates data, judged by a keyword test
// over its name and description.
func (s *ToolSpec) IsRisky() bool {
	return RiskOf(s.Name, s.Description)
}

// RiskOf applies the mutation-verb keyword test to a tool code and
// description, case-insensitively.
func RiskOf(code, description string) bool {
	c := strings.ToLower(code)
	d := strings.ToLower(description)
	for _, tok := range riskyTokens {
		if strings.Contains(c, tok) || strings.Contains(d, tok) {
			return true
		}
	}
	return false
}

// Parameter describes a single input parameter of a tool.
type Parameter struct {
	Name        string
	Type        ParameterType
	Title       string
	Description string
	Required    bool
	Enum        []string
	Properties  map[string]*Parameter
	Items       *Parameter
}

// ParameterType is the type of a parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)
