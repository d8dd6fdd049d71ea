package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parameter is a declared report input. It is stored either as a bare name
// or as an object carrying a lookup query for the value list.
type Parameter struct {
	Name        string
	ValuesQuery string
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	if p.ValuesQuery == "" {
		return json.Marshal(p.Name)
	}
	return json.Marshal(struct {
		Name        string `json:"name"`
		ValuesQuery string `json:"values_query"`
	}{p.Name, p.ValuesQuery})
}

func (p *Parameter) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*p = Parameter{Name: NormalizeParamName(name)}
		return nil
	}

	var obj struct {
		Name        *string `json:"name"`
		Param       *string `json:"param"`
		Parameter   *string `json:"parameter"`
		ValuesQuery *string `json:"values_query"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("parameter must be a string or an object: %w", err)
	}

	var name string
	for _, candidate := range []*string{obj.Name, obj.Param, obj.Parameter} {
		if candidate != nil && *candidate != "" {
			name = *candidate
			break
		}
	}
	*p = Parameter{Name: NormalizeParamName(name)}
	if obj.ValuesQuery != nil {
		p.ValuesQuery = strings.TrimSpace(*obj.ValuesQuery)
	}
	return nil
}

// NormalizeParamName trims whitespace and leading @ characters.
func NormalizeParamName(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "@")
}

// ParseParameters decodes a stored parameters column. Invalid JSON yields an
// empty list rather than an error.
func ParseParameters(raw string) []Parameter {
	if strings.TrimSpace(raw) == "" {
		return []Parameter{}
	}
	var params []Parameter
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return []Parameter{}
	}
	out := params[:0]
	for _, p := range params {
		if p.Name != "" {
			out = append(out, p)
		}
	}
	return out
}

// EncodeParameters is the inverse of ParseParameters.
func EncodeParameters(params []Parameter) (string, error) {
	if params == nil {
		params = []Parameter{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormParamPrefix prefixes every parameter field of a run submission.
const FormParamPrefix = "param_"

// ParamBinding is the argument list for one stored procedure call.
type ParamBinding struct {
	// Declared holds one value per declared parameter, nil when absent.
	Declared []any
	// Extra holds undeclared name/value pairs, sorted by name.
	Extra []NamedValue
	// Input echoes the declared values keyed by name.
	Input map[string]any
}

type NamedValue struct {
	Name  string
	Value string
}

// BindParams maps submitted param_<name> fields onto the declared parameter
// order. Undeclared fields are kept as named extras.
func BindParams(declared []string, form map[string][]string) ParamBinding {
	b := ParamBinding{
		Declared: make([]any, len(declared)),
		Input:    make(map[string]any, len(declared)),
	}
	known := make(map[string]bool, len(declared))

	for i, name := range declared {
		known[name] = true
		vals, ok := form[FormParamPrefix+name]
		if !ok || len(vals) == 0 {
			b.Input[name] = nil
			continue
		}
		b.Declared[i] = vals[0]
		b.Input[name] = vals[0]
	}

	for key, vals := range form {
		if !strings.HasPrefix(key, FormParamPrefix) || len(vals) == 0 {
			continue
		}
		name := NormalizeParamName(strings.TrimPrefix(key, FormParamPrefix))
		if name == "" || known[name] || !IsSafeIdentifier(name) {
			continue
		}
		b.Extra = append(b.Extra, NamedValue{Name: name, Value: vals[0]})
		b.Input[name] = vals[0]
	}
	sort.Slice(b.Extra, func(i, j int) bool { return b.Extra[i].Name < b.Extra[j].Name })

	return b
}

// Args flattens the binding into driver arguments.
func (b ParamBinding) Args() []any {
	args := make([]any, 0, len(b.Declared)+len(b.Extra))
	args = append(args, b.Declared...)
	for _, e := range b.Extra {
		args = append(args, e.Value)
	}
	return args
}
