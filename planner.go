package sitepilot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// plannerOutputSchema constrains the JSON object the model must return.
// Validation failures degrade to an empty plan instead of failing the turn.
const plannerOutputSchema = `{
	"type": "object",
	"properties": {
		"intent": {"type": "string", "enum": ["action", "capability"]},
		"capability_response": {"type": "string"},
		"param_prompt": {"type": "string"},
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"tool": {"type": "string"},
					"args": {"type": "object"},
					"needs_params": {"type": "boolean"},
					"missing_params": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["tool"]
			}
		}
	},
	"required": ["intent"]
}`

// LLMPlanner produces plans by prompting a text generator and parsing its
// JSON output. Model output is treated as untrusted: it is schema-validated
// here and re-validated against the tool snapshot by BuildPlan.
type LLMPlanner struct {
	gen    TextGenerator
	schema *jsonschema.Schema
}

// NewLLMPlanner creates a planner over the given text generator.
func NewLLMPlanner(gen TextGenerator) (*LLMPlanner, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(plannerOutputSchema))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse planner output schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("planner.json", doc); err != nil {
		return nil, goerr.Wrap(err, "failed to register planner output schema")
	}
	schema, err := compiler.Compile("planner.json")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile planner output schema")
	}
	return &LLMPlanner{gen: gen, schema: schema}, nil
}

// ClassifyAndPlan prompts the model and parses the proposed plan. A failed
// generation is a planning error; unparseable or schema-invalid output
// degrades to an empty action plan so the caller's fallback applies.
func (p *LLMPlanner) ClassifyAndPlan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	logger := LoggerFromContext(ctx)

	output, err := p.gen.Generate(ctx, buildPlannerPrompt(req))
	if err != nil {
		return nil, goerr.Wrap(ErrPlanning, "plan generation failed",
			goerr.V("cause", err.Error()))
	}

	raw, err := ExtractJSONObject(output)
	if err != nil {
		logger.Warn("planner output is not a JSON object, using empty plan",
			"output_len", len(output))
		return &PlanResult{Intent: IntentAction}, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err == nil {
		err = p.schema.Validate(doc)
	}
	if err != nil {
		logger.Warn("planner output failed schema validation, using empty plan",
			"error", err.Error())
		return &PlanResult{Intent: IntentAction}, nil
	}

	var result PlanResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.Warn("planner output failed to decode, using empty plan",
			"error", err.Error())
		return &PlanResult{Intent: IntentAction}, nil
	}
	if result.Intent == "" {
		result.Intent = IntentAction
	}
	return &result, nil
}

// ExtractJSONObject pulls the JSON object out of model output. Direct
// decoding is tried first; when the model wrapped the object in prose or
// fences, the slice from the first "{" to the last "}" is tried once.
func ExtractJSONObject(output string) (string, error) {
	t := strings.TrimSpace(output)
	if json.Valid([]byte(t)) && strings.HasPrefix(t, "{") {
		return t, nil
	}
	l := strings.Index(t, "{")
	r := strings.LastIndex(t, "}")
	if l >= 0 && l < r {
		candidate := t[l : r+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", goerr.New("no JSON object in output")
}

func buildPlannerPrompt(req *PlanRequest) string {
	var b strings.Builder
	b.WriteString("You plan tool calls for a site management copilot.\n")
	b.WriteString("Available tools:\n")
	for _, tool := range req.Snapshot.Tools {
		brief, _ := json.Marshal(tool.Brief())
		b.WriteString("- ")
		b.WriteString(tool.Name)
		if tool.Description != "" {
			b.WriteString(": ")
			b.WriteString(tool.Description)
		}
		b.WriteString(" schema=")
		b.Write(brief)
		b.WriteString("\n")
	}

	history := WindowHistory(req.History)
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range history {
			b.WriteString(turn.Role)
			b.WriteString(": ")
			b.WriteString(turn.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nUser request: ")
	b.WriteString(req.UserText)
	b.WriteString("\n\n")
	b.WriteString("Respond with a single JSON object only, no prose: ")
	b.WriteString(`{"intent": "action" or "capability", "capability_response": `)
	b.WriteString(`"answer when intent is capability", "steps": [{"title": ..., `)
	b.WriteString(`"tool": ..., "args": {...}, "needs_params": bool, `)
	b.WriteString(`"missing_params": [...]}], "param_prompt": "question when `)
	b.WriteString(`parameters are missing"}. Use only listed tool names.`)
	return b.String()
}
