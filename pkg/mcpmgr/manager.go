package mcpmgr

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcphost-go/pkg/mcpclient"
	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// statusPingTimeout bounds the ping GetServerSummaries uses to check a server.
const statusPingTimeout = 2 * time.Second

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	ID              string
	Status          ConnectionStatus
	Config          ServerConfig
	PID             int
	ProtocolVersion string
	ServerInfo      *mcp.Implementation
	Tools           int
	Resources       int
	Prompts         int
}

// NotificationSchema identifies an MCP notification method.
type NotificationSchema string

const (
	NotificationSchemaToolListChanged     NotificationSchema = mcpclient.MethodToolListChanged
	NotificationSchemaPromptListChanged   NotificationSchema = mcpclient.MethodPromptListChanged
	NotificationSchemaResourceListChanged NotificationSchema = mcpclient.MethodResourceListChanged
	NotificationSchemaResourceUpdated     NotificationSchema = mcpclient.MethodResourceUpdated
	NotificationSchemaLogging             NotificationSchema = mcpclient.MethodLogMessage
	NotificationSchemaProgress            NotificationSchema = mcpclient.MethodProgress
)

// NotificationPayload carries a server notification with its raw params so
// callers can perform custom decoding when necessary.
type NotificationPayload struct {
	ServerID string
	Method   NotificationSchema
	Kind     mcpclient.NotificationKind
	Params   json.RawMessage
}

// NotificationHandlerFunc handles one notification from one server.
type NotificationHandlerFunc func(context.Context, NotificationPayload)

// Manager owns a named collection of MCP server sessions. It aggregates their
// catalogs under qualified names and routes calls to the owning server.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	logger  *slog.Logger

	states map[string]*managedState
	closed bool

	notifications    map[string]*notificationRegistry
	rawNotifications map[string]map[NotificationSchema][]NotificationHandlerFunc

	// serverAddedHandlers run after AddServer registers a ready server.
	serverAddedHandlers []func(string)
	// serverRemovedHandlers run after RemoveServer or CloseAll evicts a server.
	serverRemovedHandlers []func(string)
}

type managedState struct {
	config  ServerConfig
	timeout time.Duration

	session   *mcpclient.Session
	transport *stdio.ProcessTransport

	connecting bool
	connectCh  chan struct{}
	cancel     context.CancelFunc
}

type notificationRegistry struct {
	toolListHandlers       []NotificationHandlerFunc
	promptListHandlers     []NotificationHandlerFunc
	resourceListHandlers   []NotificationHandlerFunc
	resourceUpdateHandlers []NotificationHandlerFunc
}

// NewManager constructs an empty Manager. Callers can provide nil options to
// fall back to sensible defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.normalized()
	return &Manager{
		options:          options,
		logger:           options.Logger,
		states:           make(map[string]*managedState),
		notifications:    make(map[string]*notificationRegistry),
		rawNotifications: make(map[string]map[NotificationSchema][]NotificationHandlerFunc),
	}
}

// ListServers returns known server identifiers.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasServer reports whether a server ID is known.
func (m *Manager) HasServer(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[serverID]
	return ok
}

// GetServerConfig returns a copy of the configuration for a given server.
func (m *Manager) GetServerConfig(serverID string) (ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[serverID]; ok {
		return st.config.clone(), true
	}
	return ServerConfig{}, false
}

// Session exposes the underlying protocol session for advanced scenarios. The
// value is nil while the server is still connecting.
func (m *Manager) Session(serverID string) *mcpclient.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[serverID]; ok {
		return st.session
	}
	return nil
}

// GetServerSummaries returns status snapshots for all managed servers, with
// a ConnectionStatus derived from a lightweight ping.
func (m *Manager) GetServerSummaries(ctx context.Context) []ServerSummary {
	m.mu.RLock()
	summaries := make([]ServerSummary, 0, len(m.states))
	for id, st := range m.states {
		summaries = append(summaries, summarize(id, st))
	}
	m.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	for idx := range summaries {
		summaries[idx].Status = m.GetConnectionStatusByAttemptingPing(ctx, summaries[idx].ID)
	}
	return summaries
}

// summarize must be called with m.mu held.
func summarize(id string, st *managedState) ServerSummary {
	summary := ServerSummary{ID: id, Config: st.config.clone(), Status: StatusConnecting}
	if st.session == nil {
		return summary
	}
	summary.Status = StatusConnected
	summary.PID = st.transport.PID()
	summary.ProtocolVersion = st.session.ProtocolVersion()
	summary.ServerInfo = st.session.ServerInfo()
	snap := st.session.Catalog().Snapshot()
	summary.Tools = len(snap.Tools)
	summary.Resources = len(snap.Resources)
	summary.Prompts = len(snap.Prompts)
	return summary
}

// AddServer launches the server described by cfg, performs the MCP handshake
// and loads its catalog. The name is reserved for the duration, so a
// concurrent AddServer with the same name fails with
// mcperr.ErrDuplicateServerName. On any failure the subprocess is torn down,
// nothing stays registered, and the specific error (mcperr.ErrSpawn,
// mcperr.ErrHandshake, mcperr.ErrTransport, ...) is returned.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) (ServerSummary, error) {
	if err := cfg.Validate(); err != nil {
		return ServerSummary{}, err
	}
	cfg = cfg.clone()
	serverID := cfg.Name

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ServerSummary{}, errors.Mark(errors.Newf("add %q: manager is closed", serverID), mcperr.ErrCancelled)
	}
	if _, ok := m.states[serverID]; ok {
		m.mu.Unlock()
		return ServerSummary{}, errors.Mark(errors.Newf("server %q is already registered", serverID), mcperr.ErrDuplicateServerName)
	}
	state := &managedState{
		config:     cfg,
		timeout:    cfg.EffectiveTimeout(m.options.DefaultTimeout),
		connecting: true,
		connectCh:  make(chan struct{}),
		cancel:     cancel,
	}
	m.states[serverID] = state
	m.mu.Unlock()

	session, transport, err := m.establishSession(connectCtx, serverID, state)

	m.mu.Lock()
	state.connecting = false
	close(state.connectCh)
	if err == nil && m.states[serverID] != state {
		err = errors.Mark(errors.Newf("server %q was removed while connecting", serverID), mcperr.ErrCancelled)
	}
	if err != nil {
		if m.states[serverID] == state {
			delete(m.states, serverID)
		}
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		m.logger.Warn("failed to add MCP server", "mcp_server", serverID, "error", err)
		return ServerSummary{}, err
	}
	state.session = session
	state.transport = transport
	summary := summarize(serverID, state)
	handlers := append([]func(string){}, m.serverAddedHandlers...)
	m.mu.Unlock()

	go m.monitorSession(serverID, session, cfg)
	m.logger.Info("MCP server added", "mcp_server", serverID, "tools", summary.Tools, "resources", summary.Resources, "prompts", summary.Prompts)
	runServerHandlers(m.logger, handlers, serverID)
	return summary, nil
}

// AddServers adds every configuration concurrently, each atomically. It
// returns the summaries of the servers that were added and the per-server
// failures joined.
func (m *Manager) AddServers(ctx context.Context, configs []ServerConfig) ([]ServerSummary, error) {
	var (
		mu        sync.Mutex
		summaries []ServerSummary
		errs      []error
	)
	g := new(errgroup.Group)
	g.SetLimit(m.options.MaxConcurrentAdds)
	for _, cfg := range configs {
		g.Go(func() error {
			summary, err := m.AddServer(ctx, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "add server %q", cfg.Name))
				return nil
			}
			summaries = append(summaries, summary)
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, errors.Join(errs...)
}

// establishSession spawns the subprocess and drives it to a loaded catalog.
// When it returns a non-nil session alongside an error, the caller closes it.
func (m *Manager) establishSession(ctx context.Context, serverID string, state *managedState) (*mcpclient.Session, *stdio.ProcessTransport, error) {
	cfg := state.config
	logger := m.logger.With("mcp_server", serverID)

	transport, err := stdio.Open(stdio.Command{
		Path:        cfg.Command,
		Args:        cfg.Args,
		Env:         cfg.Env,
		Dir:         cfg.Dir,
		GracePeriod: m.options.ShutdownGrace,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "launch %q", serverID)
	}

	var wire stdio.Transport = transport
	if rpcLogger := m.resolveLogger(cfg); rpcLogger != nil {
		wire = &loggingTransport{serverID: serverID, delegate: transport, logger: rpcLogger}
	}
	session := mcpclient.NewSession(serverID, wire, mcpclient.Options{
		ClientInfo:     &mcp.Implementation{Name: m.options.ClientName, Version: m.options.ClientVersion},
		Timeout:        state.timeout,
		Logger:         m.logger,
		OnNotification: m.notificationHandler(serverID),
	})
	if err := session.Initialize(ctx); err != nil {
		return session, nil, errors.Wrapf(err, "initialize %q", serverID)
	}
	if err := session.Refresh(ctx); err != nil {
		return session, nil, errors.Wrapf(err, "load catalog of %q", serverID)
	}
	return session, transport, nil
}

// monitorSession reports a session that stops on its own. The session stays
// registered; calls fail fast with the stored transport error until the
// server is removed.
func (m *Manager) monitorSession(serverID string, session *mcpclient.Session, cfg ServerConfig) {
	<-session.Done()
	err := session.Err()
	if err == nil || errors.Is(err, mcperr.ErrCancelled) {
		return
	}
	m.logger.Warn("MCP server connection lost", "mcp_server", serverID, "error", err)
	if cfg.OnError != nil {
		cfg.OnError(err)
	}
}

// RemoveServer closes the server's session and evicts it. A second removal
// of the same name fails with mcperr.ErrUnknownServer.
func (m *Manager) RemoveServer(ctx context.Context, serverID string) error {
	m.mu.Lock()
	state, ok := m.states[serverID]
	if !ok {
		m.mu.Unlock()
		return errors.Mark(errors.Newf("remove: unknown server %q", serverID), mcperr.ErrUnknownServer)
	}
	delete(m.states, serverID)
	delete(m.notifications, serverID)
	delete(m.rawNotifications, serverID)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	session := state.session
	m.mu.Unlock()

	var closeErr error
	if session == nil {
		// Still connecting; AddServer sees the eviction and tears down.
		state.cancel()
	} else {
		closeErr = closeWithContext(ctx, session)
	}
	m.logger.Info("MCP server removed", "mcp_server", serverID)
	// Notify out of lock to avoid deadlocks.
	runServerHandlers(m.logger, handlers, serverID)
	return closeErr
}

func closeWithContext(ctx context.Context, session *mcpclient.Session) error {
	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// CloseAll closes every session concurrently and waits for all of them.
// Pending calls resolve with mcperr.ErrCancelled. Individual close failures
// are joined into the returned error; every server is evicted regardless.
// The manager accepts no new servers afterwards.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	states := m.states
	m.states = make(map[string]*managedState)
	m.notifications = make(map[string]*notificationRegistry)
	m.rawNotifications = make(map[string]map[NotificationSchema][]NotificationHandlerFunc)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	for id, st := range states {
		g.Go(func() error {
			if st.session == nil {
				st.cancel()
				<-st.connectCh
				return nil
			}
			if err := st.session.Close(); err != nil {
				mu.Lock()
				errs = append(errs, errors.Wrapf(err, "close %q", id))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		runServerHandlers(m.logger, handlers, id)
	}
	m.logger.Info("MCP manager closed", "servers", len(ids))
	return errors.Join(errs...)
}

// OnServerAdded registers a callback invoked after AddServer registers a
// ready server. Handlers run without the manager lock held.
func (m *Manager) OnServerAdded(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverAddedHandlers = append(m.serverAddedHandlers, handler)
	m.mu.Unlock()
}

// OnServerRemoved registers a callback invoked after RemoveServer or
// CloseAll evicts a server. Handlers run without the manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.mu.Unlock()
}

func runServerHandlers(logger *slog.Logger, handlers []func(string), serverID string) {
	for _, h := range handlers {
		// Best-effort; isolate panics.
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("server lifecycle handler panicked", "mcp_server", serverID, "panic", r)
				}
			}()
			h(serverID)
		}()
	}
}

// lookup returns the ready session of serverID.
func (m *Manager) lookup(serverID string) (*mcpclient.Session, *managedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[serverID]
	if !ok {
		return nil, nil, errors.Mark(errors.Newf("unknown server %q", serverID), mcperr.ErrUnknownServer)
	}
	if state.session == nil {
		return nil, nil, errors.Mark(errors.Newf("server %q is still connecting", serverID), mcperr.ErrNotInitialized)
	}
	return state.session, state, nil
}

// resolve splits a qualified name into a ready session and the server-local
// name.
func (m *Manager) resolve(qualified string) (*mcpclient.Session, *managedState, string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.states))
	for id := range m.states {
		names = append(names, id)
	}
	m.mu.RUnlock()

	serverID, name, ok := splitQualified(qualified, names)
	if !ok {
		return nil, nil, "", errors.Mark(errors.Newf("no server owns %q", qualified), mcperr.ErrUnknownServer)
	}
	session, state, err := m.lookup(serverID)
	if err != nil {
		return nil, nil, "", err
	}
	return session, state, name, nil
}

// sessions returns the ready sessions in name order.
func (m *Manager) sessions() []*mcpclient.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*mcpclient.Session, 0, len(m.states))
	for _, st := range m.states {
		if st.session != nil {
			out = append(out, st.session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListAllTools returns every ready server's cached tools keyed by qualified
// name. Each returned tool is a deep copy whose Name is the qualified name.
func (m *Manager) ListAllTools() map[string]*mcp.Tool {
	out := make(map[string]*mcp.Tool)
	for _, s := range m.sessions() {
		for _, tool := range s.Catalog().Snapshot().Tools {
			qualified := QualifiedName(s.Name(), tool.Name)
			out[qualified] = cloneTool(tool, qualified)
		}
	}
	return out
}

// ListAllPrompts returns every ready server's cached prompts keyed by
// qualified name, renamed like ListAllTools.
func (m *Manager) ListAllPrompts() map[string]*mcp.Prompt {
	out := make(map[string]*mcp.Prompt)
	for _, s := range m.sessions() {
		for _, prompt := range s.Catalog().Snapshot().Prompts {
			qualified := QualifiedName(s.Name(), prompt.Name)
			out[qualified] = clonePrompt(prompt, qualified)
		}
	}
	return out
}

// ListAllResources returns every ready server's cached resources keyed by
// server name. URIs are already global, so resources are not renamed. The
// resources are shared with the cached catalog and must not be modified.
func (m *Manager) ListAllResources() map[string][]*mcp.Resource {
	out := make(map[string][]*mcp.Resource)
	for _, s := range m.sessions() {
		out[s.Name()] = append([]*mcp.Resource(nil), s.Catalog().Snapshot().Resources...)
	}
	return out
}

// Catalog returns the cached snapshot of one server.
func (m *Manager) Catalog(serverID string) (*mcpclient.Snapshot, error) {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}
	return session.Catalog().Snapshot(), nil
}

// CallTool routes a qualified tool name to its server and returns the
// server's result object verbatim. Routing failures (mcperr.ErrUnknownServer,
// mcperr.ErrUnknownTool) never touch a transport.
func (m *Manager) CallTool(ctx context.Context, qualifiedName string, args any) (json.RawMessage, error) {
	session, state, tool, err := m.resolve(qualifiedName)
	if err != nil {
		return nil, err
	}
	return callTool(ctx, session, state, tool, args)
}

// CallToolOnServer invokes a tool by its server-local name.
func (m *Manager) CallToolOnServer(ctx context.Context, serverID, toolName string, args any) (json.RawMessage, error) {
	session, state, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}
	return callTool(ctx, session, state, toolName, args)
}

func callTool(ctx context.Context, session *mcpclient.Session, state *managedState, tool string, args any) (json.RawMessage, error) {
	if _, ok := session.Catalog().Snapshot().Tool(tool); !ok {
		return nil, errors.Mark(errors.Newf("server %q has no tool %q", session.Name(), tool), mcperr.ErrUnknownTool)
	}
	return session.CallTool(ctx, tool, args, state.timeout)
}

// CallToolResult is CallTool with the result decoded into the MCP type.
func (m *Manager) CallToolResult(ctx context.Context, qualifiedName string, args any) (*mcp.CallToolResult, error) {
	raw, err := m.CallTool(ctx, qualifiedName, args)
	if err != nil {
		return nil, err
	}
	return DecodeCallToolResult(raw)
}

// DecodeCallToolResult decodes a verbatim tools/call result.
func DecodeCallToolResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode tools/call result"), mcperr.ErrProtocol)
	}
	return &res, nil
}

// GetPrompt routes a qualified prompt name to its server and renders it.
func (m *Manager) GetPrompt(ctx context.Context, qualifiedName string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, _, prompt, err := m.resolve(qualifiedName)
	if err != nil {
		return nil, err
	}
	return getPrompt(ctx, session, prompt, args)
}

// GetPromptOnServer renders a prompt by its server-local name.
func (m *Manager) GetPromptOnServer(ctx context.Context, serverID, promptName string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}
	return getPrompt(ctx, session, promptName, args)
}

func getPrompt(ctx context.Context, session *mcpclient.Session, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	if _, ok := session.Catalog().Snapshot().Prompt(prompt); !ok {
		return nil, errors.Mark(errors.Newf("server %q has no prompt %q", session.Name(), prompt), mcperr.ErrUnknownPrompt)
	}
	return session.GetPrompt(ctx, prompt, args)
}

// ReadResource reads a resource from the named server. The URI is passed
// through even if the catalog does not list it, since servers may expose
// resources they do not enumerate.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}
	return session.ReadResource(ctx, uri)
}

// SubscribeResource subscribes to updates of a resource on the named server.
// Updates arrive through OnResourceUpdated.
func (m *Manager) SubscribeResource(ctx context.Context, serverID, uri string) error {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return err
	}
	return session.Subscribe(ctx, uri)
}

// UnsubscribeResource cancels a SubscribeResource.
func (m *Manager) UnsubscribeResource(ctx context.Context, serverID, uri string) error {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return err
	}
	return session.Unsubscribe(ctx, uri)
}

// RefreshServer reloads one server's catalog. On failure the previous
// catalog stays in place.
func (m *Manager) RefreshServer(ctx context.Context, serverID string) error {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return err
	}
	return session.Refresh(ctx)
}

// PingServer sends a protocol-level ping to the MCP server.
func (m *Manager) PingServer(ctx context.Context, serverID string) error {
	session, _, err := m.lookup(serverID)
	if err != nil {
		return err
	}
	return session.Ping(ctx)
}

// GetConnectionStatusByAttemptingPing attempts a ping to determine whether the
// session is connected, currently connecting, or disconnected.
func (m *Manager) GetConnectionStatusByAttemptingPing(ctx context.Context, serverID string) ConnectionStatus {
	m.mu.RLock()
	state, ok := m.states[serverID]
	if !ok {
		m.mu.RUnlock()
		return StatusDisconnected
	}
	if state.connecting {
		m.mu.RUnlock()
		return StatusConnecting
	}
	session := state.session
	m.mu.RUnlock()
	if session == nil {
		return StatusDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()
	if err := session.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// Register notification handlers.

func (m *Manager) notificationHandler(serverID string) mcpclient.NotificationHandler {
	return func(n mcpclient.Notification) {
		m.dispatchNotification(context.Background(), NotificationPayload{
			ServerID: serverID,
			Method:   NotificationSchema(n.Method),
			Kind:     n.Kind,
			Params:   n.Params,
		})
	}
}

func (m *Manager) dispatchNotification(ctx context.Context, payload NotificationPayload) {
	m.mu.RLock()
	var handlers []NotificationHandlerFunc
	if reg := m.notifications[payload.ServerID]; reg != nil {
		switch payload.Kind {
		case mcpclient.NotificationToolListChanged:
			handlers = append(handlers, reg.toolListHandlers...)
		case mcpclient.NotificationPromptListChanged:
			handlers = append(handlers, reg.promptListHandlers...)
		case mcpclient.NotificationResourceListChanged:
			handlers = append(handlers, reg.resourceListHandlers...)
		case mcpclient.NotificationResourceUpdated:
			handlers = append(handlers, reg.resourceUpdateHandlers...)
		}
	}
	handlers = append(handlers, m.rawNotifications[payload.ServerID][payload.Method]...)
	m.mu.RUnlock()

	if len(handlers) == 0 {
		m.logger.Debug("unhandled MCP notification", "mcp_server", payload.ServerID, "method", payload.Method)
		return
	}
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Keep other listeners alive.
					m.logger.Error("MCP notification handler panicked", "mcp_server", payload.ServerID, "method", payload.Method, "panic", r)
				}
			}()
			h(ctx, payload)
		}()
	}
}

// OnToolListChanged registers a handler for tool list notifications.
func (m *Manager) OnToolListChanged(serverID string, handler NotificationHandlerFunc) {
	m.register(serverID, handler, func(reg *notificationRegistry) *[]NotificationHandlerFunc { return &reg.toolListHandlers })
}

// OnPromptListChanged registers a handler for prompt list notifications.
func (m *Manager) OnPromptListChanged(serverID string, handler NotificationHandlerFunc) {
	m.register(serverID, handler, func(reg *notificationRegistry) *[]NotificationHandlerFunc { return &reg.promptListHandlers })
}

// OnResourceListChanged registers a handler for resource list notifications.
func (m *Manager) OnResourceListChanged(serverID string, handler NotificationHandlerFunc) {
	m.register(serverID, handler, func(reg *notificationRegistry) *[]NotificationHandlerFunc { return &reg.resourceListHandlers })
}

// OnResourceUpdated registers a handler for resource updated notifications.
func (m *Manager) OnResourceUpdated(serverID string, handler NotificationHandlerFunc) {
	m.register(serverID, handler, func(reg *notificationRegistry) *[]NotificationHandlerFunc { return &reg.resourceUpdateHandlers })
}

func (m *Manager) register(serverID string, handler NotificationHandlerFunc, slot func(*notificationRegistry) *[]NotificationHandlerFunc) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.notifications[serverID]
	if reg == nil {
		reg = &notificationRegistry{}
		m.notifications[serverID] = reg
	}
	list := slot(reg)
	*list = append(*list, handler)
}

// AddNotificationHandler registers a handler for an arbitrary notification
// method, including methods the manager has no dedicated hook for.
func (m *Manager) AddNotificationHandler(serverID string, schema NotificationSchema, handler NotificationHandlerFunc) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rawNotifications[serverID]; !ok {
		m.rawNotifications[serverID] = make(map[NotificationSchema][]NotificationHandlerFunc)
	}
	m.rawNotifications[serverID][schema] = append(m.rawNotifications[serverID][schema], handler)
}
