package sitepilot

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// argAliases maps the camelCase variants planners tend to emit onto the
// snake_case parameter names the backends declare.
var argAliases = map[string]string{
	"propertyId":          "property_id",
	"dateRanges":          "date_ranges",
	"dateRange":           "date_ranges",
	"dimension":           "dimensions",
	"dims":                "dimensions",
	"metric":              "metrics",
	"orderBys":            "order_bys",
	"currencyCode":        "currency_code",
	"returnPropertyQuota": "return_property_quota",
}

// NormalizeArgs canonicalizes planner-produced argument keys. Unknown keys
// pass through unchanged; only the known alias table is applied.
func NormalizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		if canonical, ok := argAliases[k]; ok {
			k = canonical
		}
		normalized[k] = v
	}
	return normalized
}

// FilterArgsBySchema drops argument keys the tool's schema does not
// declare. Required keys present in the input are always kept, even when
// the schema's property listing is incomplete.
func FilterArgsBySchema(spec *ToolSpec, args map[string]any) map[string]any {
	if spec == nil || len(spec.Parameters) == 0 {
		return args
	}
	filtered := map[string]any{}
	for key, value := range args {
		if _, ok := spec.Parameters[key]; ok {
			filtered[key] = value
		}
	}
	for _, req := range spec.Required {
		if _, ok := filtered[req]; ok {
			continue
		}
		if v, ok := args[req]; ok {
			filtered[req] = v
		}
	}
	return filtered
}

// errorCodeTokenRefreshFailed is the backend error code for a failed
// upstream token refresh. It is surfaced to the user as an expired
// authorization rather than a generic tool failure.
const errorCodeTokenRefreshFailed = "TOKEN_REFRESH_FAILED"

// IsAuthExpiredMessage reports whether an error message describes an
// expired or revoked upstream authorization grant.
func IsAuthExpiredMessage(msg string) bool {
	m := strings.ToLower(msg)
	if !strings.Contains(m, "invalid_grant") {
		return false
	}
	if strings.Contains(m, "token has been expired or revoked") {
		return true
	}
	return strings.Contains(m, "token") &&
		(strings.Contains(m, "expired") || strings.Contains(m, "revoked"))
}

// InvokeResult is the classified outcome of one tool invocation.
type InvokeResult struct {
	// Result is the normalized tool output on success.
	Result map[string]any `json:"result,omitempty"`

	// Err is the extracted error message for a tool-reported failure.
	Err string `json:"error,omitempty"`

	// AuthExpired marks an authorization failure, which callers surface
	// with a re-connect affordance instead of a retry suggestion.
	AuthExpired bool `json:"auth_expired,omitempty"`

	DurationMS int64 `json:"duration_ms,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r *InvokeResult) OK() bool { return r.Err == "" && !r.AuthExpired }

// AsError converts a failed result into a sentinel-tagged error:
// ErrAuthExpired for credential failures, a plain tool error otherwise,
// nil on success.
func (r *InvokeResult) AsError() error {
	if r.AuthExpired {
		return goerr.Wrap(ErrAuthExpired, r.Err)
	}
	if r.Err != "" {
		return goerr.New(r.Err)
	}
	return nil
}

// Invoker executes catalog tools against a tool source, normalizing
// arguments on the way in and classifying results on the way out. A
// returned error means the call itself could not be made (transport or
// context failure); tool-reported failures come back as a non-OK
// InvokeResult.
type Invoker struct {
	source  ToolSource
	timeout time.Duration
	clock   func() time.Time
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokeTimeout bounds each tool call. Zero disables the bound.
func WithInvokeTimeout(timeout time.Duration) InvokerOption {
	return func(x *Invoker) {
		x.timeout = timeout
	}
}

// DefaultInvokeTimeout bounds a single tool call.
const DefaultInvokeTimeout = 30 * time.Second

// NewInvoker creates an invoker over the given tool source.
func NewInvoker(source ToolSource, options ...InvokerOption) *Invoker {
	x := &Invoker{
		source:  source,
		timeout: DefaultInvokeTimeout,
		clock:   time.Now,
	}
	for _, opt := range options {
		opt(x)
	}
	return x
}

// Invoke runs one tool call. Arguments are alias-normalized and, when a
// spec is given, filtered down to the declared schema before dispatch.
func (x *Invoker) Invoke(ctx context.Context, namespace string, spec *ToolSpec, name string, args map[string]any) (*InvokeResult, error) {
	logger := LoggerFromContext(ctx)

	args = NormalizeArgs(args)
	if spec != nil {
		args = FilterArgsBySchema(spec, args)
	}

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	started := x.clock()
	raw, err := x.source.CallTool(ctx, namespace, name, args)
	elapsed := x.clock().Sub(started).Milliseconds()
	if err != nil {
		if IsAuthExpiredMessage(err.Error()) {
			logger.Warn("tool call failed with expired authorization", "tool", name)
			return &InvokeResult{AuthExpired: true, Err: err.Error(), DurationMS: elapsed}, nil
		}
		return nil, goerr.Wrap(err, "failed to call tool",
			goerr.V("namespace", namespace), goerr.V("tool", name))
	}

	result := ClassifyResult(raw)
	result.DurationMS = elapsed
	if result.AuthExpired {
		logger.Warn("tool reported expired authorization", "tool", name)
	} else if result.Err != "" {
		logger.Warn("tool reported error", "tool", name, "error", result.Err)
	}
	return result, nil
}

// ClassifyResult inspects a raw tool response and sorts it into success,
// tool error, or expired authorization. On success the payload is
// normalized into Result; failures carry only the extracted message.
func ClassifyResult(raw map[string]any) *InvokeResult {
	structured := structuredContent(raw)

	if code, _ := structured["errorCode"].(string); code != "" {
		msg := extractErrorMessage(raw, structured)
		if code == errorCodeTokenRefreshFailed || IsAuthExpiredMessage(msg) {
			return &InvokeResult{AuthExpired: true, Err: msg}
		}
		return &InvokeResult{Err: msg}
	}

	if isErrorFlagged(raw) {
		msg := extractErrorMessage(raw, structured)
		if IsAuthExpiredMessage(msg) {
			return &InvokeResult{AuthExpired: true, Err: msg}
		}
		return &InvokeResult{Err: msg}
	}

	return &InvokeResult{Result: NormalizeResult(raw)}
}

func structuredContent(raw map[string]any) map[string]any {
	for _, key := range []string{"structuredContent", "structured_content"} {
		if m, ok := raw[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}

func isErrorFlagged(raw map[string]any) bool {
	for _, key := range []string{"isError", "is_error"} {
		if b, ok := raw[key].(bool); ok && b {
			return true
		}
	}
	if b, ok := raw["success"].(bool); ok && !b {
		return true
	}
	return false
}

const defaultToolErrorMessage = "tool returned an error"

// extractErrorMessage digs a human-readable message out of a failed tool
// response, preferring explicit error fields over content text.
func extractErrorMessage(raw, structured map[string]any) string {
	if msg, ok := raw["error"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := structured["message"].(string); ok && msg != "" {
		return msg
	}
	if content, ok := raw["content"].([]any); ok && len(content) > 0 {
		switch first := content[0].(type) {
		case map[string]any:
			if text, ok := first["text"].(string); ok && text != "" {
				return text
			}
		case string:
			if first != "" {
				return first
			}
		}
	}
	return defaultToolErrorMessage
}

// NormalizeResult flattens a successful tool response for display and
// logging. A single text content envelope is unwrapped and, when it holds
// JSON, decoded; all string values are whitespace-trimmed.
func NormalizeResult(raw map[string]any) map[string]any {
	if structured := structuredContent(raw); structured != nil {
		return asResultMap(stripValue(structured))
	}

	if content, ok := raw["content"].([]any); ok && len(content) == 1 {
		switch first := content[0].(type) {
		case map[string]any:
			if text, ok := first["text"].(string); ok {
				return asResultMap(stripValue(tryParseJSONText(text)))
			}
		case string:
			return asResultMap(stripValue(tryParseJSONText(first)))
		}
	}

	return asResultMap(stripValue(raw))
}

// asResultMap wraps non-object normalized values so callers always get a
// map. Objects pass through unchanged.
func asResultMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// tryParseJSONText decodes text as JSON when possible. When direct
// decoding fails, the slice from the first "{" to the last "}" is tried
// once; otherwise the trimmed text is returned as-is.
func tryParseJSONText(text string) any {
	t := strings.TrimSpace(text)
	if t == "" {
		return t
	}
	var decoded any
	if err := json.Unmarshal([]byte(t), &decoded); err == nil {
		return decoded
	}
	l := strings.Index(t, "{")
	r := strings.LastIndex(t, "}")
	if l >= 0 && l < r {
		if err := json.Unmarshal([]byte(t[l:r+1]), &decoded); err == nil {
			return decoded
		}
	}
	return t
}

// stripValue trims whitespace from string values, map keys, and the
// name/value fields backends habitually pad, recursively.
func stripValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			kk := strings.TrimSpace(k)
			vv := stripValue(item)
			if kk == "name" || kk == "value" {
				if s, ok := vv.(string); ok {
					vv = strings.TrimSpace(s)
				}
			}
			out[kk] = vv
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripValue(item)
		}
		return out
	case string:
		return strings.TrimSpace(val)
	default:
		return v
	}
}
