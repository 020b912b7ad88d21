package sitepilot

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPEndpoint locates one MCP server. Either BaseURL (remote, SSE) or Path
// (local executable, stdio) must be set.
type MCPEndpoint struct {
	BaseURL string

	Path    string
	Args    []string
	EnvVars []string
}

// MCPSource is a ToolSource backed by MCP servers, one endpoint per
// namespace. Namespaces sharing no endpoint never see each other's tools.
type MCPSource struct {
	endpoints map[string]MCPEndpoint
	siteID    string
	tenantID  string
	tokens    TokenSource

	mu    sync.Mutex
	conns map[string]*mcpConn
}

// MCPSourceOption configures an MCPSource.
type MCPSourceOption func(*MCPSource)

// WithSiteID sets the X-Site-Id header for remote endpoints.
func WithSiteID(siteID string) MCPSourceOption {
	return func(s *MCPSource) {
		s.siteID = siteID
	}
}

// WithTenantID sets the X-Tenant-Id header for remote endpoints.
func WithTenantID(tenantID string) MCPSourceOption {
	return func(s *MCPSource) {
		s.tenantID = tenantID
	}
}

// WithTokenSource sets the bearer token source for remote endpoints.
func WithTokenSource(tokens TokenSource) MCPSourceOption {
	return func(s *MCPSource) {
		s.tokens = tokens
	}
}

// NewMCPSource creates a source over the given namespace→endpoint map.
func NewMCPSource(endpoints map[string]MCPEndpoint, options ...MCPSourceOption) *MCPSource {
	s := &MCPSource{
		endpoints: endpoints,
		conns:     map[string]*mcpConn{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *MCPSource) conn(ctx context.Context, namespace string) (*mcpConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.conns[namespace]; ok {
		return conn, nil
	}
	endpoint, ok := s.endpoints[namespace]
	if !ok {
		return nil, goerr.New("no endpoint for namespace", goerr.V("namespace", namespace))
	}

	headers := map[string]string{}
	if s.siteID != "" {
		headers["X-Site-Id"] = s.siteID
	}
	if s.tenantID != "" {
		headers["X-Tenant-Id"] = s.tenantID
	}
	if s.tokens != nil {
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get backend token",
				goerr.V("namespace", namespace))
		}
		headers["Authorization"] = "Bearer " + token
	}

	conn := &mcpConn{endpoint: endpoint, headers: headers}
	if err := conn.start(ctx); err != nil {
		return nil, err
	}
	s.conns[namespace] = conn
	return conn, nil
}

// ListTools implements ToolSource.
func (s *MCPSource) ListTools(ctx context.Context, namespace string) ([]ToolSpec, error) {
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return nil, err
	}
	tools, err := conn.listTools(ctx)
	if err != nil {
		return nil, err
	}

	specs := make([]ToolSpec, 0, len(tools))
	for _, tool := range tools {
		spec, err := toolToSpec(tool)
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CallTool implements ToolSource. The raw response keeps the content list
// and error flag so the invoker can classify the outcome.
func (s *MCPSource) CallTool(ctx context.Context, namespace, name string, args map[string]any) (map[string]any, error) {
	conn, err := s.conn(ctx, namespace)
	if err != nil {
		return nil, err
	}
	resp, err := conn.callTool(ctx, name, args)
	if err != nil {
		return nil, err
	}

	content := make([]any, 0, len(resp.Content))
	for _, c := range resp.Content {
		if txt, ok := c.(*mcp.TextContent); ok {
			content = append(content, map[string]any{"text": txt.Text})
		}
	}
	return map[string]any{
		"content": content,
		"isError": resp.IsError,
	}, nil
}

// Close shuts down every open connection.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for namespace, conn := range s.conns {
		if err := conn.close(); err != nil {
			lastErr = goerr.Wrap(err, "failed to close MCP connection",
				goerr.V("namespace", namespace))
		}
		delete(s.conns, namespace)
	}
	return lastErr
}

type mcpConn struct {
	endpoint MCPEndpoint
	headers  map[string]string

	client     *client.Client
	initResult *mcp.InitializeResult

	initMutex sync.Mutex
}

func (c *mcpConn) start(ctx context.Context) error {
	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	if c.initResult != nil {
		return nil
	}

	var tp transport.Interface
	if c.endpoint.Path != "" {
		tp = transport.NewStdio(c.endpoint.Path, c.endpoint.EnvVars, c.endpoint.Args...)
	}

	if c.endpoint.BaseURL != "" {
		sse, err := transport.NewSSE(c.endpoint.BaseURL, transport.WithHeaders(c.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport")
		}
		tp = sse
	}

	if tp == nil {
		return goerr.New("no transport")
	}

	c.client = client.NewClient(tp)

	if err := c.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var initRequest mcp.InitializeRequest
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "sitepilot",
		Version: "0.0.1",
	}

	if resp, err := c.client.Initialize(ctx, initRequest); err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	} else {
		c.initResult = resp
	}

	return nil
}

func (c *mcpConn) listTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	return resp.Tools, nil
}

func (c *mcpConn) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.initResult == nil {
		return nil, goerr.New("MCP client not initialized")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool")
	}

	return resp, nil
}

func (c *mcpConn) close() error {
	if err := c.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	return nil
}

func toolToSpec(tool mcp.Tool) (*ToolSpec, error) {
	parameters, err := inputSchemaToParameter(tool.InputSchema)
	if err != nil {
		return nil, err
	}

	return &ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  parameters,
		Required:    tool.InputSchema.Required,
		InputSchema: map[string]any{
			"type":       tool.InputSchema.Type,
			"properties": tool.InputSchema.Properties,
			"required":   tool.InputSchema.Required,
		},
	}, nil
}

func valueOrEmpty[T any](v any) T {
	var empty T
	if v == nil {
		return empty
	}
	if v, ok := v.(T); ok {
		return v
	}
	return empty
}

func inputSchemaToParameter(inputSchema mcp.ToolInputSchema) (map[string]*Parameter, error) {
	parameters := map[string]*Parameter{}

	for name, property := range inputSchema.Properties {
		prop, ok := property.(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidInputSchema, "invalid property", goerr.V("property", property))
		}

		parameter, err := propertyToParameter(name, prop)
		if err != nil {
			return nil, err
		}
		parameters[name] = parameter
	}

	return parameters, nil
}

func propertyToParameter(name string, prop map[string]any) (*Parameter, error) {
	var properties map[string]*Parameter
	var items *Parameter
	propType := valueOrEmpty[string](prop["type"])

	if propType == "object" {
		properties = map[string]*Parameter{}
		nestedProperty := valueOrEmpty[map[string]any](prop["properties"])

		for k, v := range nestedProperty {
			nested, ok := v.(map[string]any)
			if !ok {
				return nil, goerr.Wrap(ErrInvalidInputSchema, "invalid nested property", goerr.V("property", k))
			}
			objParam, err := propertyToParameter(k, nested)
			if err != nil {
				return nil, err
			}
			properties[k] = objParam
		}
	}

	if propType == "array" {
		itemProp, ok := prop["items"].(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidInputSchema, "invalid array items", goerr.V("property", name))
		}
		v, err := propertyToParameter(name, itemProp)
		if err != nil {
			return nil, err
		}
		items = v
	}

	return &Parameter{
		Name:        name,
		Type:        ParameterType(propType),
		Title:       valueOrEmpty[string](prop["title"]),
		Description: valueOrEmpty[string](prop["description"]),
		Required:    valueOrEmpty[bool](prop["required"]),
		Enum:        valueOrEmpty[[]string](prop["enum"]),
		Properties:  properties,
		Items:       items,
	}, nil
}
