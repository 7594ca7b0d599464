// Package aci talks to the ACI.dev function platform: it resolves function
// definitions, runs the function search, and executes functions on behalf of
// a linked account.
package aci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nawresmhed/guidezella/pkg/session"
	"github.com/nawresmhed/guidezella/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultBaseURL = "https://api.aci.dev"

// APIError is a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aci api status %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client implements tools.Invoker and tools.Catalog. It holds no per-session
// state and is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("aci: api key is not set")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  client,
	}, nil
}

type searchFunctionsRequest struct {
	Intent string `json:"intent,omitempty" jsonschema:"description=Use this to find relevant functions you might need. Returned results of this function will be sorted by relevance to the intent."`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=The maximum number of functions to return from the search per response.,minimum=1,default=100"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Pagination offset.,minimum=0,default=0"`
}

var searchFunctionsDef = tools.DefinitionFor[searchFunctionsRequest](
	tools.SearchFunctionName,
	"This function allows you to find relevant executable functions and their schemas that can help complete your tasks.",
)

type executeRequest struct {
	FunctionInput        map[string]any `json:"function_input"`
	LinkedAccountOwnerID string         `json:"linked_account_owner_id"`
}

// ExecutionResult is what the platform reports for an executed function.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode the request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read the response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func readAPIError(status int, body []byte) error {
	body = bytes.TrimSpace(body)
	var detail struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &detail); err == nil {
		for _, msg := range []string{detail.Message, detail.Detail, detail.Error} {
			if msg != "" {
				return &APIError{StatusCode: status, Message: msg}
			}
		}
	}
	if len(body) == 0 {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

// Definition fetches the definition of a function in the given format. The
// search function is described locally.
func (c *Client) Definition(ctx context.Context, name string, format tools.Format) (tools.Definition, error) {
	if name == tools.SearchFunctionName {
		return searchFunctionsDef, nil
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/functions/"+url.PathEscape(name)+"/definition", formatQuery(format), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return tools.Definition{}, fmt.Errorf("%w: %s: %v", tools.ErrUnknownTool, name, err)
		}
		return tools.Definition{}, err
	}
	defs, err := tools.ParseDefinitions(body)
	if err != nil {
		return tools.Definition{}, err
	}
	if len(defs) == 0 {
		return tools.Definition{}, fmt.Errorf("%w: %s: empty definition", tools.ErrUnknownTool, name)
	}
	return defs[0], nil
}

func formatQuery(format tools.Format) url.Values {
	q := url.Values{}
	if format == "" {
		format = tools.FormatOpenAI
	}
	q.Set("format", string(format))
	return q
}

// Invoke runs the search function or executes a platform function.
func (c *Client) Invoke(ctx context.Context, req tools.Request) (any, error) {
	logger := session.Logger(ctx, "aci")
	logger.Debug("invoke", "name", req.Name, "args", req.Args)
	if req.Name == tools.SearchFunctionName {
		return c.search(ctx, req)
	}
	return c.execute(ctx, req)
}

func (c *Client) search(ctx context.Context, req tools.Request) (any, error) {
	var args searchFunctionsRequest
	if len(req.Args) > 0 {
		encoded, err := json.Marshal(req.Args)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(encoded, &args); err != nil {
			return nil, &tools.ToolError{Name: req.Name, Err: fmt.Errorf("invalid arguments: %w", err)}
		}
	}
	q := formatQuery(req.Format)
	q.Set("allowed_apps_only", strconv.FormatBool(req.Auth.AllowedAppsOnly))
	if args.Intent != "" {
		q.Set("intent", args.Intent)
	}
	if args.Limit > 0 {
		q.Set("limit", strconv.Itoa(args.Limit))
	}
	if args.Offset > 0 {
		q.Set("offset", strconv.Itoa(args.Offset))
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/functions/search", q, nil)
	if err != nil {
		return nil, err
	}
	var found any
	if err := json.Unmarshal(body, &found); err != nil {
		return nil, fmt.Errorf("failed to decode the search result: %w", err)
	}
	return found, nil
}

func (c *Client) execute(ctx context.Context, req tools.Request) (any, error) {
	input := req.Args
	if input == nil {
		input = map[string]any{}
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/functions/"+url.PathEscape(req.Name)+"/execute", nil, &executeRequest{
		FunctionInput:        input,
		LinkedAccountOwnerID: req.Auth.LinkedAccountOwnerID,
	})
	if err != nil {
		return nil, err
	}
	var result ExecutionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode the result of %s: %w", req.Name, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "function execution failed"
		}
		return nil, &tools.ToolError{Name: req.Name, Err: errors.New(msg)}
	}
	return &result, nil
}
