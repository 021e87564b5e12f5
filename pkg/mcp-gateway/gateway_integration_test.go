package mcpgateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphost-go/internal/mcptest"
	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

func TestMain(m *testing.M) {
	mcptest.RunIfServer()
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func calcConfig(name string) mcpmgr.ServerConfig {
	path, args, env := mcptest.Command(mcptest.Calc)
	return mcpmgr.ServerConfig{Name: name, Command: path, Args: args, Env: env, Timeout: 20 * time.Second}
}

func connectGateway(ctx context.Context, t *testing.T, gateway *Gateway) *mcp.ClientSession {
	t.Helper()
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)

	transport := &mcp.StreamableClientTransport{
		Endpoint:   server.URL + "/mcp",
		HTTPClient: server.Client(),
		MaxRetries: 3,
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-integration-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("connect to gateway: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestGatewayMirrorsManagedServers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gateway integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{Logger: discardLogger()})
	t.Cleanup(func() { _ = manager.CloseAll() })
	if _, err := manager.AddServer(ctx, calcConfig("calc")); err != nil {
		t.Fatalf("AddServer(calc): %v", err)
	}

	gateway, err := NewGateway(manager, &Options{Path: "/mcp", Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := connectGateway(ctx, t, gateway)

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools via gateway: %v", err)
	}
	if !hasTool(tools.Tools, "calc_add") {
		t.Fatalf("calc_add not advertised: %v", toolNames(tools.Tools))
	}
	if !containsServerMeta(tools.Tools, "calc") {
		t.Fatalf("gateway tool metadata missing origin ids")
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "calc_add",
		Arguments: map[string]any{"a": 4, "b": 6},
	})
	if err != nil {
		t.Fatalf("CallTool(calc_add): %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool(calc_add) reported tool error: %+v", result.Content)
	}
	if len(result.Content) != 1 {
		t.Fatalf("CallTool(calc_add) content = %+v", result.Content)
	}
	if text, ok := result.Content[0].(*mcp.TextContent); !ok || text.Text != "10" {
		t.Fatalf("CallTool(calc_add) content = %#v", result.Content[0])
	}

	prompt, err := session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      "calc_greet",
		Arguments: map[string]string{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("GetPrompt(calc_greet): %v", err)
	}
	if text, ok := prompt.Messages[0].Content.(*mcp.TextContent); !ok || text.Text != "Hello, Ada!" {
		t.Fatalf("GetPrompt(calc_greet) = %#v", prompt.Messages[0].Content)
	}

	uri := ServerPrefixNamespace{}.ResourceURI("calc", "calc://readme")
	contents, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		t.Fatalf("ReadResource(%s): %v", uri, err)
	}
	if len(contents.Contents) != 1 || contents.Contents[0].Text != mcptest.ReadmeText {
		t.Fatalf("ReadResource(%s) = %+v", uri, contents.Contents)
	}
	if contents.Contents[0].URI != uri {
		t.Fatalf("resource contents keep the upstream uri %q", contents.Contents[0].URI)
	}
}

func TestGatewayFollowsServerLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gateway integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{Logger: discardLogger()})
	t.Cleanup(func() { _ = manager.CloseAll() })

	gateway, err := NewGateway(manager, &Options{Path: "/mcp", Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := connectGateway(ctx, t, gateway)

	if _, err := manager.AddServer(ctx, calcConfig("late")); err != nil {
		t.Fatalf("AddServer(late): %v", err)
	}
	if err := waitForTool(ctx, session, "late_add", true); err != nil {
		t.Fatalf("late_add not mirrored: %v", err)
	}

	if err := manager.RemoveServer(ctx, "late"); err != nil {
		t.Fatalf("RemoveServer(late): %v", err)
	}
	if err := waitForTool(ctx, session, "late_add", false); err != nil {
		t.Fatalf("late_add still advertised: %v", err)
	}
}

func waitForTool(ctx context.Context, session *mcp.ClientSession, name string, present bool) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		tools, err := session.ListTools(ctx, nil)
		if err == nil && hasTool(tools.Tools, name) == present {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s present=%v: %w", name, present, ctx.Err())
		case <-ticker.C:
		}
	}
}

func hasTool(tools []*mcp.Tool, name string) bool {
	return slices.Contains(toolNames(tools), name)
}

func toolNames(tools []*mcp.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func containsServerMeta(tools []*mcp.Tool, serverID string) bool {
	for _, tool := range tools {
		if tool.Meta != nil && tool.Meta[metaKeyServerID] == serverID {
			return true
		}
	}
	return false
}
