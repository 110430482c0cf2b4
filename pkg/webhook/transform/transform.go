package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldTransform converts a mapped value into the target type.
type FieldTransform string

const (
	TransformString  FieldTransform = "string"
	TransformNumber  FieldTransform = "number"
	TransformBoolean FieldTransform = "boolean"
	TransformDate    FieldTransform = "date"
	TransformJSON    FieldTransform = "json"
)

// FieldMapping maps one payload location into the parameters map.
type FieldMapping struct {
	// Source is "$" for the whole document or "$.a.b.c" descent.
	Source string `json:"source" yaml:"source"`
	// Target is a dotted path into parameters; intermediate maps are
	// created as needed.
	Target string `json:"target" yaml:"target"`
	// Transform converts the value after extraction.
	Transform FieldTransform `json:"transform,omitempty" yaml:"transform,omitempty"`
	// Default substitutes when the source is missing.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// Rule is one transformation rule.
type Rule struct {
	ID     string         `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Fields []FieldMapping `json:"fields" yaml:"fields"`
	// CustomLogic is a sandboxed expression over payload and
	// parameters that must produce an object merged into parameters.
	CustomLogic string `json:"custom_logic,omitempty" yaml:"custom_logic,omitempty"`
	// TargetSchema optionally validates the final parameters.
	TargetSchema json.RawMessage `json:"target_schema,omitempty" yaml:"target_schema,omitempty"`
	// RequiredFields must be present (top-level) in the final parameters.
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
}

// Registry holds transformation rules by id.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*Rule)}
}

// ErrRuleNotFound indicates an unknown transformation rule id.
var ErrRuleNotFound = errors.New("transformation rule not found")

// Put stores or replaces a rule.
func (r *Registry) Put(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, nil
}

// Apply runs the rule over a parsed payload and returns the parameters
// map: field mappings first, then custom logic, then validation.
func Apply(rule *Rule, payload map[string]any) (map[string]any, error) {
	parameters := make(map[string]any)

	for _, field := range rule.Fields {
		value, found, err := extract(payload, field.Source)
		if err != nil {
			return nil, err
		}
		if !found {
			if field.Default == nil {
				continue
			}
			value = field.Default
		}
		if field.Transform != "" {
			value, err = applyTransform(field.Transform, value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field.Target, err)
			}
		}
		if err := setPath(parameters, field.Target, value); err != nil {
			return nil, err
		}
	}

	if rule.CustomLogic != "" {
		result, err := evalExpr(rule.CustomLogic, payload, parameters)
		if err != nil {
			return nil, err
		}
		merged, ok := result.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("custom logic must produce an object, got %T", result)
		}
		for k, v := range merged {
			parameters[k] = v
		}
	}

	if err := validateTarget(rule, parameters); err != nil {
		return nil, err
	}
	return parameters, nil
}

// extract resolves "$" or "$.a.b.c" against the payload.
func extract(payload map[string]any, source string) (any, bool, error) {
	if source == "$" {
		return payload, true, nil
	}
	path, ok := strings.CutPrefix(source, "$.")
	if !ok {
		return nil, false, fmt.Errorf("invalid source path %q", source)
	}

	var current any = payload
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		current, ok = obj[part]
		if !ok {
			return nil, false, nil
		}
	}
	return current, true, nil
}

// setPath writes a value at a dotted target path, creating intermediate
// maps.
func setPath(parameters map[string]any, target string, value any) error {
	if target == "" {
		return errors.New("empty target path")
	}
	parts := strings.Split(target, ".")
	current := parameters
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			child := make(map[string]any)
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("target path %q collides with a non-object value", target)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

func applyTransform(transform FieldTransform, value any) (any, error) {
	switch transform {
	case TransformString:
		return toString(value), nil
	case TransformNumber:
		return toNumber(value)
	case TransformBoolean:
		return toBoolean(value)
	case TransformDate:
		return toDate(value)
	case TransformJSON:
		return toJSON(value)
	default:
		return nil, fmt.Errorf("unknown transform %q", transform)
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", v)
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func toBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot convert %q to boolean", v)
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

// dateLayouts are the accepted input formats, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toDate normalizes a timestamp string to RFC3339 UTC. Naive inputs
// are interpreted as UTC.
func toDate(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("cannot convert %T to date", value)
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("cannot parse %q as date", s)
}

func toJSON(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		// Already structured.
		return value, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse value as JSON: %w", err)
	}
	return parsed, nil
}

// validateTarget checks required fields and the optional JSON schema.
func validateTarget(rule *Rule, parameters map[string]any) error {
	for _, field := range rule.RequiredFields {
		if _, ok := parameters[field]; !ok {
			return fmt.Errorf("required field %q missing from parameters", field)
		}
	}

	if len(rule.TargetSchema) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(rule.TargetSchema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal target schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("target_schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add target schema: %w", err)
	}
	schema, err := compiler.Compile("target_schema.json")
	if err != nil {
		return fmt.Errorf("compile target schema: %w", err)
	}
	// The validator wants plain JSON types; parameters already are.
	if err := schema.Validate(any(parameters)); err != nil {
		return fmt.Errorf("parameters failed schema validation: %w", err)
	}
	return nil
}
