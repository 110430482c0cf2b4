package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBody_JSON(t *testing.T) {
	payload, err := ParseBody("application/json", []byte(`{"a":1,"b":{"c":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), payload["a"])

	_, err = ParseBody("application/json", []byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrNotAnObject)

	_, err = ParseBody("application/json", []byte(`{broken`))
	assert.Error(t, err)
}

func TestParseBody_XML(t *testing.T) {
	body := []byte(`<ns:alert xmlns:ns="http://example.com">
		<ns:severity>high</ns:severity>
		<ns:host>web-1</ns:host>
		<ns:host>web-2</ns:host>
	</ns:alert>`)

	payload, err := ParseBody("application/xml", body)
	require.NoError(t, err)

	alert, ok := payload["alert"].(map[string]any)
	require.True(t, ok, "namespace prefix stripped from root")
	assert.Equal(t, "high", alert["severity"])
	assert.Equal(t, []any{"web-1", "web-2"}, alert["host"], "repeated children become a list")
}

func TestParseBody_Form(t *testing.T) {
	payload, err := ParseBody("application/x-www-form-urlencoded", []byte("name=deploy&tag=a&tag=b"))
	require.NoError(t, err)
	assert.Equal(t, "deploy", payload["name"], "single values collapse")
	assert.Equal(t, []any{"a", "b"}, payload["tag"])
}

func TestApply_FieldMapping(t *testing.T) {
	rule := &Rule{
		Fields: []FieldMapping{
			{Source: "$.alert.severity", Target: "severity"},
			{Source: "$.alert.host", Target: "context.host"},
			{Source: "$.alert.missing", Target: "region", Default: "us-east-1"},
			{Source: "$", Target: "raw"},
		},
	}
	payload := map[string]any{
		"alert": map[string]any{"severity": "high", "host": "web-1"},
	}

	params, err := Apply(rule, payload)
	require.NoError(t, err)

	assert.Equal(t, "high", params["severity"])
	ctx, ok := params["context"].(map[string]any)
	require.True(t, ok, "dotted targets auto-create maps")
	assert.Equal(t, "web-1", ctx["host"])
	assert.Equal(t, "us-east-1", params["region"])
	assert.Equal(t, payload, params["raw"])
}

func TestApply_MissingSourceWithoutDefaultIsSkipped(t *testing.T) {
	rule := &Rule{Fields: []FieldMapping{{Source: "$.nope", Target: "x"}}}
	params, err := Apply(rule, map[string]any{"a": float64(1)})
	require.NoError(t, err)
	_, present := params["x"]
	assert.False(t, present)
}

func TestApply_Transforms(t *testing.T) {
	rule := &Rule{
		Fields: []FieldMapping{
			{Source: "$.count", Target: "count_text", Transform: TransformString},
			{Source: "$.total", Target: "total", Transform: TransformNumber},
			{Source: "$.active", Target: "active", Transform: TransformBoolean},
			{Source: "$.when", Target: "when", Transform: TransformDate},
			{Source: "$.blob", Target: "blob", Transform: TransformJSON},
		},
	}
	payload := map[string]any{
		"count":  float64(42),
		"total":  "3.5",
		"active": "yes",
		"when":   "2026-03-01 12:30:00",
		"blob":   `{"k":"v"}`,
	}

	params, err := Apply(rule, payload)
	require.NoError(t, err)

	assert.Equal(t, "42", params["count_text"])
	assert.Equal(t, 3.5, params["total"])
	assert.Equal(t, true, params["active"])
	assert.Equal(t, "2026-03-01T12:30:00Z", params["when"])
	assert.Equal(t, map[string]any{"k": "v"}, params["blob"])
}

func TestApply_TransformErrors(t *testing.T) {
	rule := &Rule{Fields: []FieldMapping{{Source: "$.v", Target: "n", Transform: TransformNumber}}}
	_, err := Apply(rule, map[string]any{"v": "not-a-number"})
	assert.Error(t, err)

	rule = &Rule{Fields: []FieldMapping{{Source: "$.v", Target: "d", Transform: TransformDate}}}
	_, err = Apply(rule, map[string]any{"v": "yesterday"})
	assert.Error(t, err)
}

func TestApply_CustomLogic(t *testing.T) {
	rule := &Rule{
		Fields: []FieldMapping{
			{Source: "$.severity", Target: "severity"},
		},
		CustomLogic: `{"urgent": payload["severity"] == "high" and payload["count"] > 3, "score": payload["count"] * 2 + 1}`,
	}
	payload := map[string]any{"severity": "high", "count": float64(5)}

	params, err := Apply(rule, payload)
	require.NoError(t, err)
	assert.Equal(t, true, params["urgent"])
	assert.Equal(t, float64(11), params["score"])
	assert.Equal(t, "high", params["severity"])
}

func TestApply_CustomLogicReadsParameters(t *testing.T) {
	rule := &Rule{
		Fields:      []FieldMapping{{Source: "$.host", Target: "host"}},
		CustomLogic: `{"label": parameters["host"] + "-prod"}`,
	}
	params, err := Apply(rule, map[string]any{"host": "web"})
	require.NoError(t, err)
	assert.Equal(t, "web-prod", params["label"])
}

func TestEvalExpr_AllowedForms(t *testing.T) {
	payload := map[string]any{
		"nums":   []any{float64(1), float64(2), float64(3)},
		"nested": map[string]any{"k": "v"},
	}

	tests := []struct {
		expr string
		want any
	}{
		{`1 + 2 * 3`, float64(7)},
		{`-(2 + 3)`, float64(-5)},
		{`10 % 3`, float64(1)},
		{`payload["nums"][0]`, float64(1)},
		{`payload["nums"][-1]`, float64(3)},
		{`payload["nested"]["k"]`, "v"},
		{`not false`, true},
		{`1 < 2 and "a" != "b"`, true},
		{`null == null`, true},
		{`[1, 2] + [3]`, []any{float64(1), float64(2), float64(3)}},
		{`(1, 2)`, []any{float64(1), float64(2)}},
		{`{"a": 1}["a"]`, float64(1)},
		{`false or "fallback"`, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalExpr(tt.expr, payload, map[string]any{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalExpr_UnsafeFormsRejected(t *testing.T) {
	unsafe := []string{
		`__import__("os")`,
		`open("/etc/passwd")`,
		`payload.keys()`,
		`len(payload)`,
		`lambda: 1`,
		`x + 1`,
		`payload["a"](1)`,
	}
	for _, expr := range unsafe {
		t.Run(expr, func(t *testing.T) {
			_, err := evalExpr(expr, map[string]any{}, map[string]any{})
			assert.ErrorIs(t, err, ErrUnsafeCustomLogic)
		})
	}
}

func TestApply_RequiredFields(t *testing.T) {
	rule := &Rule{
		Fields:         []FieldMapping{{Source: "$.a", Target: "a"}},
		RequiredFields: []string{"a", "b"},
	}
	_, err := Apply(rule, map[string]any{"a": "present"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required field "b"`)
}

func TestApply_TargetSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"severity": {"type": "string"},
			"count": {"type": "number"}
		},
		"required": ["severity"]
	}`)

	rule := &Rule{
		Fields: []FieldMapping{
			{Source: "$.severity", Target: "severity"},
			{Source: "$.count", Target: "count", Transform: TransformNumber},
		},
		TargetSchema: schema,
	}

	_, err := Apply(rule, map[string]any{"severity": "high", "count": "7"})
	require.NoError(t, err)

	badRule := &Rule{
		Fields:       []FieldMapping{{Source: "$.count", Target: "severity", Transform: TransformNumber}},
		TargetSchema: schema,
	}
	_, err = Apply(badRule, map[string]any{"count": "7"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Put(&Rule{ID: "rule-1", Name: "ci"})

	got, err := r.Get("rule-1")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Name)

	_, err = r.Get("rule-2")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
