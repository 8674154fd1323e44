package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
)

// MCPCatalog adapts a remote MCP tool server to the Catalog interface.
// Tool descriptors are fetched once at connect time; the engine treats the
// remote inventory as fixed for the life of the process.
type MCPCatalog struct {
	client *mcpclient.Client
	descs  map[string]Descriptor
	order  []Descriptor
}

// ConnectMCP dials an MCP server over streamable HTTP, initializes the
// session, and snapshots its tool inventory. Mutating tools (per the
// server's read-only annotation) always require approval.
func ConnectMCP(ctx context.Context, url, bearerToken string) (*MCPCatalog, error) {
	var opts []mcptransport.StreamableHTTPCOption
	if bearerToken != "" {
		opts = append(opts, mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + bearerToken,
		}))
	}
	c, err := mcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("tool: mcp dial: %w", err)
	}

	if _, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "sentiad", Version: "1.0"},
		},
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tool: mcp initialize: %w", err)
	}

	listed, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tool: mcp list tools: %w", err)
	}

	cat := &MCPCatalog{
		client: c,
		descs:  make(map[string]Descriptor, len(listed.Tools)),
	}
	for _, t := range listed.Tools {
		mutating := t.Annotations.ReadOnlyHint == nil || !*t.Annotations.ReadOnlyHint
		d := Descriptor{
			ID:               t.Name,
			Category:         categoryForToolID(t.Name),
			Mutating:         mutating,
			RequiresApproval: mutating,
			Description:      t.Description,
		}
		cat.descs[d.ID] = d
		cat.order = append(cat.order, d)
	}
	return cat, nil
}

// categoryForToolID derives the capability tag from the tool id prefix
// ("forecast.run" → forecasting). Unknown prefixes default to diagnostics,
// the least privileged category.
func categoryForToolID(id string) model.ToolCategory {
	prefix, _, _ := strings.Cut(id, ".")
	switch prefix {
	case "forecast":
		return model.CategoryForecasting
	case "stock", "inventory":
		return model.CategoryOptimization
	case "wc", "cash", "finance":
		return model.CategoryFinance
	case "fx", "scenario":
		return model.CategoryPlanning
	case "report", "export":
		return model.CategoryReporting
	default:
		return model.CategoryDiagnostics
	}
}

// List returns the snapshotted descriptors in server order.
func (m *MCPCatalog) List() []Descriptor {
	out := make([]Descriptor, len(m.order))
	copy(out, m.order)
	return out
}

// Describe returns the descriptor for id, if the server advertised it.
func (m *MCPCatalog) Describe(id string) (Descriptor, bool) {
	d, ok := m.descs[id]
	return d, ok
}

// Invoke calls the remote tool. Server-reported tool errors are carried in
// the Result; the returned error covers transport failures and unknown ids.
func (m *MCPCatalog) Invoke(ctx context.Context, id string, params map[string]any, _ InvokeContext) (Result, error) {
	if _, ok := m.descs[id]; !ok {
		return Result{}, fmt.Errorf("tool: %q is not advertised by the MCP server", id)
	}

	start := time.Now()
	res, err := m.client.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      id,
			Arguments: params,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("tool: mcp call %q: %w", id, err)
	}

	out := Result{
		InvocationID: uuid.New(),
		Duration:     time.Since(start),
	}

	text := firstText(res.Content)
	if res.IsError {
		out.Error = text
		return out, nil
	}

	out.Success = true
	// Tool servers return JSON text content; fall back to a raw text field
	// for servers that return prose.
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		payload = map[string]any{"text": text}
	}
	out.Output = payload
	return out, nil
}

// Close tears down the MCP session.
func (m *MCPCatalog) Close() error {
	return m.client.Close()
}

func firstText(content []mcplib.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
