// Package mcptest provides MCP servers for tests. Servers run inside the test
// binary itself: TestMain calls RunIfServer, and Command returns the
// executable and environment that relaunch the binary as the named server, so
// tests exercise real subprocess spawn, pipe and kill paths.
package mcptest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const envServer = "MCPTEST_SERVER"

// Server names understood by RunIfServer.
const (
	// Calc is a go-sdk server with tools add, sleep and fail, the prompt
	// greet and the resource calc://readme.
	Calc = "calc"
	// Crash exits with status 3 before reading anything.
	Crash = "crash"
	// BadVersion answers initialize with a protocol version nobody speaks.
	BadVersion = "badversion"
	// Silent reads requests and never answers.
	Silent = "silent"
	// ListFail completes the handshake, then answers tools/list with a
	// JSON-RPC internal error.
	ListFail = "listfail"
)

// ReadmeText is the content of calc://readme.
const ReadmeText = "calc adds numbers"

// RunIfServer runs the server named by the environment, then exits. It
// returns immediately in a normal test process.
func RunIfServer() {
	name := os.Getenv(envServer)
	if name == "" {
		return
	}
	if err := run(context.Background(), name); err != nil {
		fmt.Fprintf(os.Stderr, "mcptest %s: %v\n", name, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Command returns the executable, arguments and environment that launch the
// named server from the current test binary.
func Command(server string) (string, []string, map[string]string) {
	exe, err := os.Executable()
	if err != nil {
		panic(err)
	}
	return exe, []string{"-test.run=^$"}, map[string]string{envServer: server}
}

func run(ctx context.Context, name string) error {
	switch name {
	case Calc:
		return NewCalcServer().Run(ctx, &mcp.StdioTransport{})
	case Crash:
		os.Exit(3)
	case BadVersion:
		return serveRaw(func(method string) (any, bool) {
			if method == "initialize" {
				return map[string]any{
					"protocolVersion": "1999-01-01",
					"capabilities":    map[string]any{},
					"serverInfo":      map[string]any{"name": "badversion", "version": "0"},
				}, true
			}
			return nil, false
		})
	case Silent:
		return serveRaw(func(string) (any, bool) { return nil, false })
	case ListFail:
		return serveRaw(func(method string) (any, bool) {
			switch method {
			case "initialize":
				return map[string]any{
					"protocolVersion": "2025-06-18",
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "listfail", "version": "0"},
				}, true
			case "tools/list":
				return rpcError{Code: -32603, Message: "boom"}, true
			}
			return nil, false
		})
	}
	return fmt.Errorf("unknown server %q", name)
}

// AddArgs are the arguments of the calc add tool.
type AddArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// AddResult is the structured output of the calc add tool.
type AddResult struct {
	Sum float64 `json:"sum"`
}

// SleepArgs are the arguments of the calc sleep tool.
type SleepArgs struct {
	Millis int `json:"millis"`
}

// NewCalcServer builds the calc server. It is exported so in-process tests
// can serve it over other transports too.
func NewCalcServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "calc", Version: "1.0.0"}, nil)

	mcp.AddTool(s, &mcp.Tool{Name: "add", Description: "Add two numbers"},
		func(_ context.Context, _ *mcp.CallToolRequest, in AddArgs) (*mcp.CallToolResult, AddResult, error) {
			sum := in.A + in.B
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: strconv.FormatFloat(sum, 'f', -1, 64)}},
			}, AddResult{Sum: sum}, nil
		})

	mcp.AddTool(s, &mcp.Tool{Name: "sleep", Description: "Sleep for millis milliseconds"},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SleepArgs) (*mcp.CallToolResult, any, error) {
			select {
			case <-time.After(time.Duration(in.Millis) * time.Millisecond):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "awake"}}}, nil, nil
		})

	mcp.AddTool(s, &mcp.Tool{Name: "fail", Description: "Always fails"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return nil, nil, fmt.Errorf("fail was called")
		})

	s.AddPrompt(&mcp.Prompt{
		Name:        "greet",
		Description: "Greet someone",
		Arguments:   []*mcp.PromptArgument{{Name: "name", Required: true}},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "greeting",
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: "Hello, " + req.Params.Arguments["name"] + "!"},
			}},
		}, nil
	})

	s.AddResource(&mcp.Resource{Name: "readme", URI: "calc://readme", MIMEType: "text/plain"},
		func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
				URI: req.Params.URI, MIMEType: "text/plain", Text: ReadmeText,
			}}}, nil
		})
	return s
}

// rpcError makes serveRaw answer with a JSON-RPC error object.
type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// serveRaw answers requests on stdio with handle; requests it does not
// handle get no answer at all. An rpcError result is sent as the error.
func serveRaw(handle func(method string) (any, bool)) error {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1<<20)
	out := json.NewEncoder(os.Stdout)
	for in.Scan() {
		var msg struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(in.Bytes(), &msg); err != nil || msg.ID == nil {
			continue
		}
		result, ok := handle(msg.Method)
		if !ok {
			continue
		}
		reply := map[string]any{"jsonrpc": "2.0", "id": *msg.ID, "result": result}
		if rerr, isErr := result.(rpcError); isErr {
			delete(reply, "result")
			reply["error"] = rerr
		}
		if err := out.Encode(reply); err != nil {
			return err
		}
	}
	return in.Err()
}
