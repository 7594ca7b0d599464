package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nawresmhed/guidezella/pkg/session"
)

type transportFactory interface {
	newTransport() mcp.Transport
}

type commandFactory struct {
	command []string
}

func (cf *commandFactory) newTransport() mcp.Transport {
	return &mcp.CommandTransport{
		Command: exec.Command(cf.command[0], cf.command[1:]...),
	}
}

type httpFactory struct {
	endpoint   string
	headers    http.Header
	streamable bool
}

type headerAddingRoundTripper struct {
	headers      http.Header
	roundTripper http.RoundTripper
}

func (rt *headerAddingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	for k, v := range rt.headers {
		if _, ok := r.Header[k]; !ok {
			r.Header[k] = v
		}
	}
	return rt.roundTripper.RoundTrip(r)
}

func (hf *httpFactory) httpClient() *http.Client {
	if len(hf.headers) == 0 {
		return nil
	}
	return &http.Client{
		Transport: &headerAddingRoundTripper{
			headers:      hf.headers,
			roundTripper: http.DefaultTransport,
		},
	}
}

func (hf *httpFactory) newTransport() mcp.Transport {
	if hf.streamable {
		return &mcp.StreamableClientTransport{
			Endpoint:   hf.endpoint,
			HTTPClient: hf.httpClient(),
		}
	}
	return &mcp.SSEClientTransport{
		Endpoint:   hf.endpoint,
		HTTPClient: hf.httpClient(),
	}
}

// MCP serves tool definitions and calls from a Model Context Protocol
// server. The client session is opened on first use and shared by every
// chat session; a failed call drops it so the next call reconnects.
type MCP struct {
	name    string
	client  *mcp.Client
	factory transportFactory

	mu            sync.Mutex
	clientSession *mcp.ClientSession

	defsMu sync.Mutex
	defs   map[string]Definition
	order  []string
}

func newMCP(name string, factory transportFactory) *MCP {
	var m *MCP
	clientOpts := &mcp.ClientOptions{
		LoggingMessageHandler: func(ctx context.Context, msg *mcp.LoggingMessageRequest) {
			m.logMessage(ctx, msg)
		},
	}
	m = &MCP{
		name: name,
		client: mcp.NewClient(
			&mcp.Implementation{
				Name:    "guidezella",
				Version: "v0.1.0",
			},
			clientOpts,
		),
		factory: factory,
	}
	return m
}

// NewCommandMCP runs the server as a subprocess speaking over stdio.
func NewCommandMCP(name string, command []string) (*MCP, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("mcp %s: empty command", name)
	}
	return newMCP(name, &commandFactory{command: command}), nil
}

// NewHTTPMCP connects to a server over HTTP. streamable selects the
// streamable HTTP transport instead of the SSE one.
func NewHTTPMCP(name, endpoint string, headers map[string]string, streamable bool) *MCP {
	var h http.Header
	if len(headers) > 0 {
		h = http.Header{}
		for k, v := range headers {
			h.Add(k, v)
		}
	}
	return newMCP(name, &httpFactory{
		endpoint:   endpoint,
		headers:    h,
		streamable: streamable,
	})
}

func (m *MCP) Name() string {
	return m.name
}

func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.clientSession != nil {
		err = m.clientSession.Close()
		m.clientSession = nil
	}
	return err
}

func (m *MCP) logMessage(ctx context.Context, msg *mcp.LoggingMessageRequest) {
	loggerName := "mcp"
	p := msg.Params
	if p.Logger != "" && !strings.Contains(p.Logger, "/") {
		loggerName += "-" + p.Logger
	}
	logger := session.Logger(ctx, loggerName)
	lvl := slog.LevelInfo
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelError, slog.LevelWarn, slog.LevelInfo} {
		if strings.EqualFold(l.String(), string(p.Level)) {
			lvl = l
			break
		}
	}
	logger.Log(ctx, lvl, "log request", "server", m.name, "data", p.Data)
}

func (m *MCP) getSession(ctx context.Context) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clientSession != nil {
		return m.clientSession, nil
	}
	cs, err := m.client.Connect(ctx, m.factory.newTransport(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mcp %s: %w", m.name, err)
	}
	m.clientSession = cs
	return cs, nil
}

func (m *MCP) dropSession(cs *mcp.ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clientSession == cs {
		m.clientSession = nil
		cs.Close()
	}
}

// Invoke calls the tool on the server. Auth is not forwarded; the server
// is expected to be configured for a single account.
func (m *MCP) Invoke(ctx context.Context, req Request) (any, error) {
	cs, err := m.getSession(ctx)
	if err != nil {
		return nil, err
	}
	logger := session.Logger(ctx, "mcp-tool")
	logger.Debug("call tool", "server", m.name, "name", req.Name, "args", req.Args)
	result, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      req.Name,
		Arguments: req.Args,
	})
	if err != nil {
		if ctx.Err() == nil {
			m.dropSession(cs)
		}
		return nil, fmt.Errorf("failed to call %s: %w", req.Name, err)
	}
	texts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		tc, ok := content.(*mcp.TextContent)
		if !ok {
			logger.Debug("skipping non-text content", "name", req.Name, "type", fmt.Sprintf("%T", content))
			continue
		}
		texts = append(texts, tc.Text)
	}
	if result.IsError {
		return nil, &ToolError{Name: req.Name, Err: errors.New(strings.Join(texts, "\n"))}
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if len(texts) == 1 && json.Valid([]byte(texts[0])) {
		return json.RawMessage(texts[0]), nil
	}
	return strings.Join(texts, "\n"), nil
}

func (m *MCP) loadDefinitions(ctx context.Context) error {
	if m.defs != nil {
		return nil
	}
	cs, err := m.getSession(ctx)
	if err != nil {
		return err
	}
	defs := map[string]Definition{}
	var order []string
	var cursor string
	for {
		tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{
			Cursor: cursor,
		})
		if err != nil {
			return fmt.Errorf("failed to list tools of %s: %w", m.name, err)
		}
		for _, t := range tools.Tools {
			d := Definition{
				Name:        t.Name,
				Description: t.Description,
			}
			if t.InputSchema != nil {
				schema, err := toSchema(t.InputSchema)
				if err != nil {
					return fmt.Errorf("failed to decode the schema of %s: %w", t.Name, err)
				}
				d.Parameters = schema
			}
			if _, ok := defs[t.Name]; !ok {
				order = append(order, t.Name)
			}
			defs[t.Name] = d
		}
		if tools.NextCursor == "" {
			break
		}
		cursor = tools.NextCursor
	}
	m.defs = defs
	m.order = order
	return nil
}

// Definitions lists every tool of the server. The list is fetched once.
func (m *MCP) Definitions(ctx context.Context) ([]Definition, error) {
	m.defsMu.Lock()
	defer m.defsMu.Unlock()
	if err := m.loadDefinitions(ctx); err != nil {
		return nil, err
	}
	result := make([]Definition, 0, len(m.order))
	for _, name := range m.order {
		result = append(result, m.defs[name])
	}
	return result, nil
}

// Definition implements Catalog. MCP has a single schema shape, so format
// is ignored.
func (m *MCP) Definition(ctx context.Context, name string, format Format) (Definition, error) {
	m.defsMu.Lock()
	defer m.defsMu.Unlock()
	if err := m.loadDefinitions(ctx); err != nil {
		return Definition{}, err
	}
	d, ok := m.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s on mcp %s", ErrUnknownTool, name, m.name)
	}
	return d, nil
}
