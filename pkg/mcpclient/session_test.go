package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphost-go/internal/mcptest"
	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

func newTestSession(t *testing.T) (*Session, *mcptest.Peer) {
	t.Helper()
	tr, peer := mcptest.NewPipe(t)
	s := NewSession("peer", tr, Options{Logger: discardLogger(), Timeout: 5 * time.Second})
	t.Cleanup(func() { s.Close() })
	return s, peer
}

func initialize(t *testing.T, s *Session) <-chan error {
	t.Helper()
	ch := make(chan error, 1)
	go func() { ch <- s.Initialize(context.Background()) }()
	return ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not complete")
	}
	return nil
}

func readySession(t *testing.T, capabilities map[string]any) (*Session, *mcptest.Peer) {
	t.Helper()
	s, peer := newTestSession(t)
	ch := initialize(t, s)
	peer.Handshake(LatestProtocolVersion, capabilities)
	require.NoError(t, waitErr(t, ch))
	return s, peer
}

func TestSessionHandshake(t *testing.T) {
	t.Parallel()
	s, peer := newTestSession(t)
	assert.Equal(t, StateUnconnected, s.State())

	ch := initialize(t, s)
	msg := peer.Read()
	require.Equal(t, MethodInitialize, msg.Method)

	var params mcp.InitializeParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, LatestProtocolVersion, params.ProtocolVersion)
	require.NotNil(t, params.ClientInfo)
	assert.Equal(t, DefaultClientInfo.Name, params.ClientInfo.Name)
	assert.Equal(t, StateInitializing, s.State())

	peer.Reply(*msg.ID, map[string]any{
		"protocolVersion": LatestProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{"listChanged": true}},
		"serverInfo":      map[string]any{"name": "peer", "version": "2.0.0"},
		"instructions":    "be nice",
	})
	n := peer.Read()
	assert.Equal(t, NotificationInitialized, n.Method)
	assert.Nil(t, n.ID)

	require.NoError(t, waitErr(t, ch))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, LatestProtocolVersion, s.ProtocolVersion())
	assert.Equal(t, "peer", s.ServerInfo().Name)
	assert.Equal(t, "be nice", s.Instructions())
	require.NotNil(t, s.Capabilities().Tools)
	assert.True(t, s.Capabilities().Tools.ListChanged)
}

func TestSessionAcceptsOlderVersion(t *testing.T) {
	t.Parallel()
	s, peer := newTestSession(t)
	ch := initialize(t, s)
	peer.Handshake("2024-11-05", nil)
	require.NoError(t, waitErr(t, ch))
	assert.Equal(t, "2024-11-05", s.ProtocolVersion())
}

func TestSessionVersionMismatchCloses(t *testing.T) {
	t.Parallel()
	s, peer := newTestSession(t)
	ch := initialize(t, s)

	msg := peer.Read()
	peer.Reply(*msg.ID, map[string]any{
		"protocolVersion": "1999-01-01",
		"capabilities":    map[string]any{},
		"serverInfo":      map[string]any{"name": "old", "version": "0"},
	})

	err := waitErr(t, ch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperr.ErrVersionMismatch))
	assert.True(t, errors.Is(err, mcperr.ErrHandshake))
	assert.Equal(t, StateClosed, s.State())
	peer.ReadClosed()
}

func TestSessionHandshakeRemoteError(t *testing.T) {
	t.Parallel()
	s, peer := newTestSession(t)
	ch := initialize(t, s)

	msg := peer.Read()
	peer.ReplyError(*msg.ID, mcperr.CodeInvalidParams, "unsupported client", nil)

	err := waitErr(t, ch)
	assert.True(t, errors.Is(err, mcperr.ErrHandshake))
	assert.True(t, errors.Is(err, mcperr.ErrRemote))
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionInitializeOnlyOnce(t *testing.T) {
	t.Parallel()
	s, _ := readySession(t, nil)

	err := s.Initialize(context.Background())
	assert.True(t, errors.Is(err, mcperr.ErrHandshake))
	assert.Equal(t, StateReady, s.State())
}

func TestSessionRequiresReady(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t)

	_, err := s.ListTools(context.Background(), "")
	assert.True(t, errors.Is(err, mcperr.ErrNotInitialized))
	_, err = s.CallTool(context.Background(), "add", nil, 0)
	assert.True(t, errors.Is(err, mcperr.ErrNotInitialized))
	assert.Equal(t, 0, s.Dispatcher().Pending())
}

func TestSessionCallToolReturnsResultVerbatim(t *testing.T) {
	t.Parallel()
	s, peer := readySession(t, nil)

	ch := make(chan callResult, 1)
	go func() {
		raw, err := s.CallTool(context.Background(), "add", map[string]any{"a": 2, "b": 3}, 0)
		ch <- callResult{raw, err}
	}()
	msg := peer.Read()
	assert.Equal(t, MethodToolsCall, msg.Method)
	assert.JSONEq(t, `{"name":"add","arguments":{"a":2,"b":3}}`, string(msg.Params))

	result := `{"content":[{"type":"text","text":"5"}],"custom":{"kept":true}}`
	peer.Send(`{"jsonrpc":"2.0","id":` + jsonInt(*msg.ID) + `,"result":` + result + `}`)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.JSONEq(t, result, string(r.raw))
}

func TestSessionCloseCancelsPending(t *testing.T) {
	t.Parallel()
	s, peer := readySession(t, nil)

	ch := make(chan callResult, 1)
	go func() {
		raw, err := s.CallTool(context.Background(), "sleep", nil, 0)
		ch <- callResult{raw, err}
	}()
	peer.Read()
	require.NoError(t, s.Close())

	r := wait(t, ch)
	assert.True(t, errors.Is(r.err, mcperr.ErrCancelled), "got %v", r.err)
	assert.Equal(t, StateClosed, s.State())

	_, err := s.ListTools(context.Background(), "")
	assert.True(t, errors.Is(err, mcperr.ErrNotInitialized))
	require.NoError(t, s.Close())
}

func TestSessionAgainstCalcServer(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	t.Parallel()
	path, args, env := mcptest.Command(mcptest.Calc)
	tr, err := stdio.Open(stdio.Command{Path: path, Args: args, Env: env, Logger: discardLogger()})
	require.NoError(t, err)
	s := NewSession("calc", tr, Options{Logger: discardLogger(), Timeout: 10 * time.Second})
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Refresh(ctx))

	snap := s.Catalog().Snapshot()
	for _, name := range []string{"add", "sleep", "fail"} {
		_, ok := snap.Tool(name)
		assert.True(t, ok, "tool %s", name)
	}
	_, ok := snap.Prompt("greet")
	assert.True(t, ok)
	_, ok = snap.Resource("calc://readme")
	assert.True(t, ok)

	raw, err := s.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3}, 0)
	require.NoError(t, err)
	var res struct {
		StructuredContent struct {
			Sum float64 `json:"sum"`
		} `json:"structuredContent"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 5.0, res.StructuredContent.Sum)

	prompt, err := s.GetPrompt(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	text, ok := prompt.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Hello, Ada!", text.Text)

	contents, err := s.ReadResource(ctx, "calc://readme")
	require.NoError(t, err)
	require.Len(t, contents.Contents, 1)
	assert.Equal(t, mcptest.ReadmeText, contents.Contents[0].Text)

	require.NoError(t, s.Ping(ctx))
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
