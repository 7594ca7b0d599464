package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

var ErrMalformedDefinition = errors.New("malformed tool definition")

// listKeys are the object fields under which providers wrap a list of
// definitions.
var listKeys = []string{"data", "functions", "tools"}

// ParseDefinitions decodes the result of a search call into definitions.
// Entries may use the OpenAI function shape
// ({"type":"function","function":{...}}), the flat shape
// ({"name","description","parameters"}) or the Anthropic shape with
// "input_schema". Entries without a name are dropped.
func ParseDefinitions(payload any) ([]Definition, error) {
	var generic any
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []Definition:
		return append([]Definition(nil), p...), nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &generic); err != nil {
			return nil, errors.Join(ErrMalformedDefinition, err)
		}
	case []byte:
		if err := json.Unmarshal(p, &generic); err != nil {
			return nil, errors.Join(ErrMalformedDefinition, err)
		}
	case string:
		if err := json.Unmarshal([]byte(p), &generic); err != nil {
			return nil, errors.Join(ErrMalformedDefinition, err)
		}
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Join(ErrMalformedDefinition, err)
		}
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return nil, errors.Join(ErrMalformedDefinition, err)
		}
	}
	return parseGeneric(generic)
}

func parseGeneric(v any) ([]Definition, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []any:
		var defs []Definition
		var allerr error
		for i, entry := range v {
			m, ok := entry.(map[string]any)
			if !ok {
				allerr = errors.Join(allerr, fmt.Errorf("%w: entry %d is %T", ErrMalformedDefinition, i, entry))
				continue
			}
			d, err := parseEntry(m)
			if err != nil {
				allerr = errors.Join(allerr, fmt.Errorf("entry %d: %w", i, err))
				continue
			}
			if d.Name != "" {
				defs = append(defs, d)
			}
		}
		return defs, allerr
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				return parseGeneric(list)
			}
		}
		d, err := parseEntry(v)
		if err != nil {
			return nil, err
		}
		if d.Name == "" {
			return nil, nil
		}
		return []Definition{d}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformedDefinition, v)
	}
}

func parseEntry(m map[string]any) (Definition, error) {
	if fn, ok := m["function"].(map[string]any); ok {
		m = fn
	}
	var d Definition
	d.Name, _ = m["name"].(string)
	d.Description, _ = m["description"].(string)
	var raw any
	for _, key := range []string{"parameters", "input_schema", "inputSchema"} {
		if p, ok := m[key]; ok && p != nil {
			raw = p
			break
		}
	}
	if raw == nil {
		return d, nil
	}
	schema, err := toSchema(raw)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: parameters of %s: %v", ErrMalformedDefinition, d.Name, err)
	}
	d.Parameters = schema
	return d, nil
}

func toSchema(v any) (*jsonschema.Schema, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(encoded, schema); err != nil {
		return nil, err
	}
	return schema, nil
}
