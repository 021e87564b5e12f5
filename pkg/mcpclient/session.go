package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateUnconnected State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultClientInfo identifies this client in the initialize request.
var DefaultClientInfo = &mcp.Implementation{Name: "mcphost", Version: "0.1.0"}

// Options configures a Session.
type Options struct {
	// ClientInfo is sent as clientInfo. Defaults to DefaultClientInfo.
	ClientInfo *mcp.Implementation
	// Capabilities is sent as the client capabilities. Defaults to none.
	Capabilities *mcp.ClientCapabilities
	// ProtocolVersion is the version offered. Defaults to LatestProtocolVersion.
	ProtocolVersion string
	// Timeout is the default per-request timeout.
	Timeout time.Duration
	Logger  *slog.Logger
	// OnNotification receives server notifications. May be nil.
	OnNotification NotificationHandler
}

// Session is one MCP conversation over a Transport. It performs the
// initialize handshake and refuses every other request until it succeeds.
type Session struct {
	name       string
	transport  stdio.Transport
	dispatcher *Dispatcher
	catalog    *Catalog
	logger     *slog.Logger
	opts       Options

	mu           sync.RWMutex
	state        State
	version      string
	serverInfo   *mcp.Implementation
	capabilities *mcp.ServerCapabilities
	instructions string

	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps t and starts its reader loop. name is used in logs only.
func NewSession(name string, t stdio.Transport, opts Options) *Session {
	if opts.ClientInfo == nil {
		opts.ClientInfo = DefaultClientInfo
	}
	if opts.Capabilities == nil {
		opts.Capabilities = &mcp.ClientCapabilities{}
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = LatestProtocolVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", name)

	s := &Session{
		name:      name,
		transport: t,
		catalog:   NewCatalog(),
		logger:    logger,
		opts:      opts,
	}
	s.dispatcher = NewDispatcher(t, DispatcherOptions{
		Logger:         logger,
		OnNotification: opts.OnNotification,
		DefaultTimeout: opts.Timeout,
	})
	s.dispatcher.Start()
	return s
}

// Name returns the name the session was created with.
func (s *Session) Name() string { return s.name }

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ProtocolVersion returns the negotiated version, empty before Ready.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ServerInfo returns the serverInfo from the initialize result.
func (s *Session) ServerInfo() *mcp.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverInfo
}

// Capabilities returns the server capabilities, or nil before Ready.
func (s *Session) Capabilities() *mcp.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// Instructions returns the optional server instructions.
func (s *Session) Instructions() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instructions
}

// Catalog returns the session's catalog. It is empty until Refresh.
func (s *Session) Catalog() *Catalog { return s.catalog }

// Done is closed when the reader loop stops, for example because the server
// exited.
func (s *Session) Done() <-chan struct{} { return s.dispatcher.Done() }

// Err returns the error that stopped the session's reader loop, if any.
func (s *Session) Err() error { return s.dispatcher.Err() }

// Dispatcher exposes the underlying request dispatcher.
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// Initialize performs the handshake: the initialize request followed by the
// initialized notification. It is only legal from StateUnconnected. On a
// protocol version the client cannot speak the session is closed and the
// error is marked mcperr.ErrVersionMismatch.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnconnected {
		state := s.state
		s.mu.Unlock()
		return mcperr.Handshake(errors.Newf("initialize: session is %s", state))
	}
	s.state = StateInitializing
	s.mu.Unlock()

	params := &mcp.InitializeParams{
		ProtocolVersion: s.opts.ProtocolVersion,
		Capabilities:    s.opts.Capabilities,
		ClientInfo:      s.opts.ClientInfo,
	}
	raw, err := s.dispatcher.Call(ctx, MethodInitialize, params, s.opts.Timeout)
	if err != nil {
		if errors.Is(err, mcperr.ErrRemote) {
			err = mcperr.Handshake(err)
		}
		s.Close()
		return err
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.Close()
		return mcperr.Handshake(errors.Mark(errors.Wrap(err, "decode initialize result"), mcperr.ErrProtocol))
	}
	if !IsCompatibleVersion(result.ProtocolVersion) {
		s.Close()
		err := errors.Newf("server answered protocol version %q", result.ProtocolVersion)
		err = errors.WithHint(err, fmt.Sprintf("supported versions: %v", supportedProtocolVersions))
		return mcperr.Handshake(errors.Mark(err, mcperr.ErrVersionMismatch))
	}

	if err := s.dispatcher.Notify(NotificationInitialized, nil); err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	if s.state != StateInitializing {
		// Closed concurrently.
		s.mu.Unlock()
		return errors.Mark(errors.New("session closed during initialize"), mcperr.ErrCancelled)
	}
	s.state = StateReady
	s.version = result.ProtocolVersion
	s.serverInfo = result.ServerInfo
	s.capabilities = result.Capabilities
	s.instructions = result.Instructions
	s.mu.Unlock()

	attrs := []any{"protocol_version", result.ProtocolVersion}
	if result.ServerInfo != nil {
		attrs = append(attrs, "server_name", result.ServerInfo.Name, "server_version", result.ServerInfo.Version)
	}
	s.logger.Info("MCP session initialized", attrs...)
	return nil
}

// Call issues method once the session is Ready.
func (s *Session) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if state := s.State(); state != StateReady {
		return nil, errors.Mark(errors.Newf("%s: session %q is %s", method, s.name, state), mcperr.ErrNotInitialized)
	}
	return s.dispatcher.Call(ctx, method, params, timeout)
}

func callInto[T any](ctx context.Context, s *Session, method string, params any, timeout time.Duration) (*T, error) {
	raw, err := s.Call(ctx, method, params, timeout)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s result", method), mcperr.ErrProtocol)
	}
	return &out, nil
}

func cursorParams(cursor string) any {
	if cursor == "" {
		return nil
	}
	return map[string]string{"cursor": cursor}
}

// ListTools fetches one page of tools.
func (s *Session) ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error) {
	return callInto[mcp.ListToolsResult](ctx, s, MethodToolsList, cursorParams(cursor), 0)
}

// ListResources fetches one page of resources.
func (s *Session) ListResources(ctx context.Context, cursor string) (*mcp.ListResourcesResult, error) {
	return callInto[mcp.ListResourcesResult](ctx, s, MethodResourcesList, cursorParams(cursor), 0)
}

// ListPrompts fetches one page of prompts.
func (s *Session) ListPrompts(ctx context.Context, cursor string) (*mcp.ListPromptsResult, error) {
	return callInto[mcp.ListPromptsResult](ctx, s, MethodPromptsList, cursorParams(cursor), 0)
}

// CallTool invokes a tool and returns the result object verbatim. A non-zero
// timeout overrides the session default.
func (s *Session) CallTool(ctx context.Context, name string, args any, timeout time.Duration) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.Call(ctx, MethodToolsCall, &mcp.CallToolParams{Name: name, Arguments: args}, timeout)
}

// ReadResource fetches the contents of the resource at uri.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return callInto[mcp.ReadResourceResult](ctx, s, MethodResourcesRead, &mcp.ReadResourceParams{URI: uri}, 0)
}

// Subscribe asks the server to send resources/updated notifications for uri.
func (s *Session) Subscribe(ctx context.Context, uri string) error {
	_, err := s.Call(ctx, MethodResourcesSubscribe, &mcp.SubscribeParams{URI: uri}, 0)
	return err
}

// Unsubscribe cancels a Subscribe.
func (s *Session) Unsubscribe(ctx context.Context, uri string) error {
	_, err := s.Call(ctx, MethodResourcesUnsubscribe, &mcp.UnsubscribeParams{URI: uri}, 0)
	return err
}

// GetPrompt renders a prompt with the given arguments.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return callInto[mcp.GetPromptResult](ctx, s, MethodPromptsGet, &mcp.GetPromptParams{Name: name, Arguments: args}, 0)
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.Call(ctx, MethodPing, nil, 0)
	return err
}

// Refresh reloads the catalog from the server.
func (s *Session) Refresh(ctx context.Context) error {
	return s.catalog.Refresh(ctx, s)
}

// Close cancels all pending requests, then closes the transport. Requests in
// flight fail with mcperr.ErrCancelled. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.dispatcher.Close(errors.Mark(errors.Newf("session %q closed", s.name), mcperr.ErrCancelled))
		s.closeErr = s.transport.Close()
		s.logger.Debug("MCP session closed")
	})
	return s.closeErr
}
