package tools

import (
	"context"
	"errors"
	"fmt"
)

// SearchFunctionName is the tool whose result is a list of further tool
// definitions. Its definitions are merged into the session tool set.
const SearchFunctionName = "ACI_SEARCH_FUNCTIONS"

var ErrUnknownTool = errors.New("unknown tool")

// Format selects the shape in which a provider describes its tools.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatBasic     Format = "basic"
)

// Auth carries the identity under which tools run.
type Auth struct {
	LinkedAccountOwnerID string
	AllowedAppsOnly      bool
}

type Request struct {
	Name   string
	Args   map[string]any
	Auth   Auth
	Format Format
}

// Invoker executes a tool call. The result must be JSON-encodable.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (any, error)
}

// Catalog resolves tool definitions by name.
type Catalog interface {
	Definition(ctx context.Context, name string, format Format) (Definition, error)
}

// Provider is a tool backend that can both describe and run its tools.
type Provider interface {
	Invoker
	Catalog
}

// ToolError reports a tool that ran and failed.
type ToolError struct {
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("tool failed: %v", e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ResolveBuiltins looks up every name in the catalog, in order.
func ResolveBuiltins(ctx context.Context, catalog Catalog, names []string, format Format) ([]Definition, error) {
	var defs []Definition
	var allerr error
	for _, name := range names {
		d, err := catalog.Definition(ctx, name, format)
		if err != nil {
			allerr = errors.Join(allerr, fmt.Errorf("failed to resolve %s: %w", name, err))
			continue
		}
		defs = append(defs, d)
	}
	if allerr != nil {
		return nil, allerr
	}
	return defs, nil
}
