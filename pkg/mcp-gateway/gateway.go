package mcpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcphost-go/pkg/mcpclient"
	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
	"github.com/vikashloomba/mcphost-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every server managed by
// mcpmgr under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	registerMu      sync.Mutex
	registeredSrvID map[string]struct{}
}

// NewGateway builds a Gateway, mirrors the catalogs of every server already
// registered, and follows servers added or removed later.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, errors.New("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, errors.New("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		manager:         mgr,
		opts:            options,
		features:        newFeatureIndex(options.Namespace),
		mux:             http.NewServeMux(),
		registeredSrvID: make(map[string]struct{}),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		SubscribeHandler:   g.handleSubscribe,
		UnsubscribeHandler: g.handleUnsubscribe,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	mgr.OnServerAdded(g.attachServer)
	mgr.OnServerRemoved(g.detachServer)
	for _, serverID := range mgr.ListServers() {
		g.registerServerHooks(serverID)
	}
	if err := g.SyncAll(); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and
// any routes added to ServeMux, behind CORS.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux the endpoint is mounted on, so callers can add
// routes such as health checks.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// errServerStopped reports that the HTTP server was shut down.
var errServerStopped = errors.New("mcpgateway: server stopped")

// ListenAndServe serves Handler on Options.Addr until ctx is cancelled, in
// which case it returns ctx.Err(), or until Shutdown is called.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	srv, err := g.claimHTTPServer()
	if err != nil {
		return err
	}
	defer g.releaseHTTPServer(srv)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return errServerStopped
		}
		return errors.Wrapf(err, "mcpgateway: serve %s", srv.Addr)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.opts.Logger.Info("MCP gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	err = group.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, errServerStopped) {
		return nil
	}
	return err
}

func (g *Gateway) claimHTTPServer() (*http.Server, error) {
	g.httpServerMu.Lock()
	defer g.httpServerMu.Unlock()
	if g.httpServer != nil {
		return nil, errors.Newf("mcpgateway: server already running on %s", g.httpServer.Addr)
	}
	g.httpServer = &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	return g.httpServer, nil
}

func (g *Gateway) releaseHTTPServer(srv *http.Server) {
	g.httpServerMu.Lock()
	defer g.httpServerMu.Unlock()
	if g.httpServer == srv {
		g.httpServer = nil
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll mirrors every registered server's cached catalog.
func (g *Gateway) SyncAll() error {
	var errs []error
	for _, serverID := range g.manager.ListServers() {
		if err := g.SyncServer(serverID); err != nil {
			g.logError("sync server", err, "mcp_server", serverID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncServer mirrors a server's cached tools, prompts and resources. A server
// that is still connecting is skipped; it is mirrored once it is added.
func (g *Gateway) SyncServer(serverID string) error {
	snap, err := g.manager.Catalog(serverID)
	if errors.Is(err, mcperr.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	g.mirror(serverID, snap)
	return nil
}

// RefreshServer reloads a server's catalog from the server, then mirrors it.
func (g *Gateway) RefreshServer(ctx context.Context, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	if err := g.manager.RefreshServer(ctx, serverID); err != nil {
		return err
	}
	return g.SyncServer(serverID)
}

// mirror applies a catalog snapshot to the downstream server: names the
// server no longer offers are withdrawn, current features are (re)registered.
func (g *Gateway) mirror(serverID string, snap *mcpclient.Snapshot) {
	staleTools, tools := g.features.UpdateTools(serverID, snap.Tools)
	stalePrompts, prompts := g.features.UpdatePrompts(serverID, snap.Prompts)
	staleResources, resources := g.features.UpdateResources(serverID, snap.Resources)

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	g.withdrawLocked(removal{Tools: staleTools, Prompts: stalePrompts, Resources: staleResources})
	for _, reg := range tools {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	for _, reg := range prompts {
		g.server.AddPrompt(reg.Prompt, g.makePromptHandler(reg.Target))
	}
	for _, reg := range resources {
		g.server.AddResource(reg.Resource, g.makeResourceHandler(reg.Target))
	}
}

// withdrawLocked must be called with serverMu held.
func (g *Gateway) withdrawLocked(r removal) {
	if len(r.Tools) > 0 {
		g.server.RemoveTools(r.Tools...)
	}
	if len(r.Prompts) > 0 {
		g.server.RemovePrompts(r.Prompts...)
	}
	if len(r.Resources) > 0 {
		g.server.RemoveResources(r.Resources...)
	}
}

func (g *Gateway) attachServer(serverID string) {
	g.registerServerHooks(serverID)
	if err := g.SyncServer(serverID); err != nil {
		g.logError("sync added server", err, "mcp_server", serverID)
	}
}

// detachServer withdraws everything a removed server contributed. The
// manager drops the server's notification handlers on removal, so hooks are
// registered again if the name comes back.
func (g *Gateway) detachServer(serverID string) {
	g.registerMu.Lock()
	delete(g.registeredSrvID, serverID)
	g.registerMu.Unlock()

	removed := g.features.RemoveServer(serverID)
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	g.withdrawLocked(removed)
}

func (g *Gateway) registerServerHooks(serverID string) {
	g.registerMu.Lock()
	if _, ok := g.registeredSrvID[serverID]; ok {
		g.registerMu.Unlock()
		return
	}
	g.registeredSrvID[serverID] = struct{}{}
	g.registerMu.Unlock()

	resync := func(context.Context, mcpmgr.NotificationPayload) {
		go func() {
			if err := g.RefreshServer(context.Background(), serverID); err != nil {
				g.logError("refresh after list change", err, "mcp_server", serverID)
			}
		}()
	}
	g.manager.OnToolListChanged(serverID, resync)
	g.manager.OnPromptListChanged(serverID, resync)
	g.manager.OnResourceListChanged(serverID, resync)
	g.manager.OnResourceUpdated(serverID, g.forwardResourceUpdate(serverID))
}

func (g *Gateway) makeToolHandler(target featureTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		raw, err := g.manager.CallToolOnServer(ctx, target.ServerID, target.Native, args)
		if err != nil {
			return nil, err
		}
		return mcpmgr.DecodeCallToolResult(raw)
	}
}

func (g *Gateway) makePromptHandler(target featureTarget) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.GetPromptOnServer(ctx, target.ServerID, target.Native, args)
	}
}

func (g *Gateway) makeResourceHandler(target featureTarget) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.manager.ReadResource(ctx, target.ServerID, target.Native)
		if err != nil {
			return nil, err
		}
		for _, c := range res.Contents {
			if c != nil && c.URI == target.Native {
				c.URI = target.GatewayName
			}
		}
		return res, nil
	}
}

func (g *Gateway) handleSubscribe(ctx context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing subscribe params")
	}
	target, err := g.resourceTarget(req.Params.URI)
	if err != nil {
		return err
	}
	return g.manager.SubscribeResource(ctx, target.ServerID, target.Native)
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil {
		return errors.New("mcpgateway: missing unsubscribe params")
	}
	target, err := g.resourceTarget(req.Params.URI)
	if err != nil {
		return err
	}
	return g.manager.UnsubscribeResource(ctx, target.ServerID, target.Native)
}

func (g *Gateway) resourceTarget(uri string) (featureTarget, error) {
	target, ok := g.features.ResourceTarget(uri)
	if !ok {
		return featureTarget{}, errors.Mark(errors.Newf("mcpgateway: unknown resource %q", uri), mcperr.ErrUnknownResource)
	}
	return target, nil
}

func (g *Gateway) forwardResourceUpdate(serverID string) mcpmgr.NotificationHandlerFunc {
	return func(ctx context.Context, payload mcpmgr.NotificationPayload) {
		var params mcp.ResourceUpdatedNotificationParams
		if err := json.Unmarshal(payload.Params, &params); err != nil {
			g.logError("decode resource update", err, "mcp_server", serverID)
			return
		}
		gatewayURI, ok := g.features.ResourceTargetByNative(serverID, params.URI)
		if !ok {
			return
		}
		params.URI = gatewayURI
		if err := g.server.ResourceUpdated(ctx, &params); err != nil {
			g.logError("forward resource update", err, "mcp_server", serverID)
		}
	}
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}
	g.mux.Handle(path, endpoint)
	if path != "/" && !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", endpoint)
	}
	return cors.New(*g.opts.CORS).Handler(g.mux)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
