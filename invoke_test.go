package sitepilot

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestNormalizeArgs(t *testing.T) {
	t.Run("camelCase aliases become snake_case", func(t *testing.T) {
		args := NormalizeArgs(map[string]any{
			"propertyId": "123",
			"dateRanges": []any{map[string]any{"start_date": "7daysAgo"}},
			"metric":     []any{"sessions"},
		})
		gt.Equal(t, args["property_id"], "123")
		gt.Value(t, args["date_ranges"]).NotNil()
		gt.Value(t, args["metrics"]).NotNil()
		_, ok := args["propertyId"]
		gt.False(t, ok)
	})

	t.Run("unknown keys pass through", func(t *testing.T) {
		args := NormalizeArgs(map[string]any{"customField": "x"})
		gt.Equal(t, args["customField"], "x")
	})

	t.Run("nil becomes an empty map", func(t *testing.T) {
		gt.Equal(t, len(NormalizeArgs(nil)), 0)
	})
}

func TestFilterArgsBySchema(t *testing.T) {
	spec := &ToolSpec{
		Name: "run_report",
		Parameters: map[string]*Parameter{
			"property_id": {Name: "property_id", Type: TypeString},
			"metrics":     {Name: "metrics", Type: TypeArray},
		},
		Required: []string{"property_id"},
	}

	t.Run("undeclared keys are dropped", func(t *testing.T) {
		filtered := FilterArgsBySchema(spec, map[string]any{
			"property_id": "123",
			"metrics":     []any{"sessions"},
			"date_ranges": []any{},
		})
		gt.Equal(t, filtered["property_id"], "123")
		_, ok := filtered["date_ranges"]
		gt.False(t, ok)
	})

	t.Run("required keys survive even without a property entry", func(t *testing.T) {
		sparse := &ToolSpec{
			Name:       "run_report",
			Parameters: map[string]*Parameter{"metrics": {Name: "metrics"}},
			Required:   []string{"property_id"},
		}
		filtered := FilterArgsBySchema(sparse, map[string]any{"property_id": "123"})
		gt.Equal(t, filtered["property_id"], "123")
	})

	t.Run("spec without parameters passes everything", func(t *testing.T) {
		args := map[string]any{"anything": true}
		gt.Equal(t, FilterArgsBySchema(&ToolSpec{Name: "t"}, args), args)
	})
}

func TestClassifyResult(t *testing.T) {
	t.Run("token refresh failure is auth expiry", func(t *testing.T) {
		result := ClassifyResult(map[string]any{
			"structuredContent": map[string]any{
				"errorCode": "TOKEN_REFRESH_FAILED",
				"message":   "refresh failed",
			},
		})
		gt.True(t, result.AuthExpired)
		gt.Equal(t, result.Err, "refresh failed")
	})

	t.Run("invalid_grant message is auth expiry", func(t *testing.T) {
		result := ClassifyResult(map[string]any{
			"isError": true,
			"content": []any{map[string]any{
				"text": "invalid_grant: Token has been expired or revoked.",
			}},
		})
		gt.True(t, result.AuthExpired)
	})

	t.Run("isError is a tool error", func(t *testing.T) {
		result := ClassifyResult(map[string]any{
			"isError": true,
			"content": []any{map[string]any{"text": "something broke"}},
		})
		gt.False(t, result.AuthExpired)
		gt.Equal(t, result.Err, "something broke")
		gt.False(t, result.OK())
	})

	t.Run("success false is a tool error", func(t *testing.T) {
		result := ClassifyResult(map[string]any{
			"success": false,
			"error":   "unknown tool: save_page",
		})
		gt.Equal(t, result.Err, "unknown tool: save_page")
	})

	t.Run("AsError tags the failure class", func(t *testing.T) {
		expired := &InvokeResult{AuthExpired: true, Err: "refresh failed"}
		gt.True(t, errors.Is(expired.AsError(), ErrAuthExpired))

		failed := &InvokeResult{Err: "boom"}
		gt.Error(t, failed.AsError())
		gt.False(t, errors.Is(failed.AsError(), ErrAuthExpired))

		ok := &InvokeResult{Result: map[string]any{}}
		gt.NoError(t, ok.AsError())
	})

	t.Run("clean result is success", func(t *testing.T) {
		result := ClassifyResult(map[string]any{
			"content": []any{map[string]any{"text": `{"title": "My Site"}`}},
		})
		gt.True(t, result.OK())
		gt.Equal(t, result.Result["title"], "My Site")
	})
}

func TestNormalizeResult(t *testing.T) {
	t.Run("single text envelope holding JSON is decoded", func(t *testing.T) {
		result := NormalizeResult(map[string]any{
			"content": []any{map[string]any{"text": `{"name": " Site ", "count": 3}`}},
		})
		gt.Equal(t, result["name"], "Site")
	})

	t.Run("prose around JSON is sliced away", func(t *testing.T) {
		result := NormalizeResult(map[string]any{
			"content": []any{map[string]any{"text": "Result: {\"ok\": true} done"}},
		})
		gt.Equal(t, result["ok"], true)
	})

	t.Run("non-JSON text stays as a value", func(t *testing.T) {
		result := NormalizeResult(map[string]any{
			"content": []any{map[string]any{"text": "  plain text  "}},
		})
		gt.Equal(t, result["value"], "plain text")
	})

	t.Run("string values are trimmed recursively", func(t *testing.T) {
		result := NormalizeResult(map[string]any{
			"structuredContent": map[string]any{
				"rows": []any{map[string]any{"value": " 42 "}},
				"note": "  padded  ",
			},
		})
		rows := result["rows"].([]any)
		row := rows[0].(map[string]any)
		gt.Equal(t, row["value"], "42")
		gt.Equal(t, result["note"], "padded")
	})
}

func TestIsAuthExpiredMessage(t *testing.T) {
	gt.True(t, IsAuthExpiredMessage("invalid_grant: Token has been expired or revoked."))
	gt.True(t, IsAuthExpiredMessage("503 error: ('invalid_grant: token revoked')"))
	gt.False(t, IsAuthExpiredMessage("invalid_grant: wrong audience"))
	gt.False(t, IsAuthExpiredMessage("connection refused"))
}

type callSource struct {
	response map[string]any
	err      error
	gotArgs  map[string]any
}

func (s *callSource) ListTools(ctx context.Context, namespace string) ([]ToolSpec, error) {
	return nil, nil
}

func (s *callSource) CallTool(ctx context.Context, namespace, name string, args map[string]any) (map[string]any, error) {
	s.gotArgs = args
	return s.response, s.err
}

func TestInvokerInvoke(t *testing.T) {
	ctx := context.Background()

	t.Run("args are normalized and filtered before dispatch", func(t *testing.T) {
		source := &callSource{response: map[string]any{
			"content": []any{map[string]any{"text": `{"ok": true}`}},
		}}
		invoker := NewInvoker(source)
		spec := &ToolSpec{
			Name:       "run_report",
			Parameters: map[string]*Parameter{"property_id": {Name: "property_id"}},
			Required:   []string{"property_id"},
		}

		result, err := invoker.Invoke(ctx, "report", spec, "run_report", map[string]any{
			"propertyId": "123",
			"bogus":      "x",
		})
		gt.NoError(t, err)
		gt.True(t, result.OK())
		gt.Equal(t, source.gotArgs, map[string]any{"property_id": "123"})
	})

	t.Run("transport failure is a Go error", func(t *testing.T) {
		source := &callSource{err: errors.New("connection reset")}
		invoker := NewInvoker(source)

		_, err := invoker.Invoke(ctx, "report", nil, "run_report", nil)
		gt.Error(t, err)
	})

	t.Run("auth-expired transport failure is classified, not fatal", func(t *testing.T) {
		source := &callSource{err: errors.New("invalid_grant: Token has been expired or revoked.")}
		invoker := NewInvoker(source)

		result, err := invoker.Invoke(ctx, "report", nil, "run_report", nil)
		gt.NoError(t, err)
		gt.True(t, result.AuthExpired)
	})

	t.Run("tool-reported error is not a Go error", func(t *testing.T) {
		source := &callSource{response: map[string]any{
			"isError": true,
			"content": []any{map[string]any{"text": "boom"}},
		}}
		invoker := NewInvoker(source)

		result, err := invoker.Invoke(ctx, "shortcut", nil, "save_basic_detail", nil)
		gt.NoError(t, err)
		gt.False(t, result.OK())
		gt.Equal(t, result.Err, "boom")
	})
}
