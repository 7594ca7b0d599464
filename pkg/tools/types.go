package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Definition describes a tool the model may call.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// DefinitionFor builds a definition whose parameters are reflected from Req.
func DefinitionFor[Req any](name, description string) Definition {
	var t Req
	schema := (&jsonschema.Reflector{
		DoNotReference: true,
	}).Reflect(&t)
	schema.Version = ""
	schema.ID = ""
	return Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}
}

// ParametersMap returns the parameter schema as a generic JSON object, the
// shape most model APIs take. A missing schema is an empty object schema.
func (d Definition) ParametersMap() (map[string]any, error) {
	if d.Parameters == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}, nil
	}
	encoded, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters of %s: %w", d.Name, err)
	}
	parameters := map[string]any{}
	if err := json.Unmarshal(encoded, &parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters of %s: %w", d.Name, err)
	}
	return parameters, nil
}
