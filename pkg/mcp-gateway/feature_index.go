package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyNativeURI  = "mcpgateway.native_uri"
)

// featureTarget locates a mirrored tool, prompt or resource upstream.
// Native is the tool or prompt name, or the resource URI.
type featureTarget struct {
	GatewayName string
	ServerID    string
	Native      string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target featureTarget
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target featureTarget
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Target   featureTarget
}

// removal lists the downstream names withdrawn for one server.
type removal struct {
	Tools     []string
	Prompts   []string
	Resources []string
}

// routeTable holds the downstream names of one feature kind, grouped by the
// server that contributed them.
type routeTable struct {
	targets  map[string]featureTarget
	byServer map[string][]string
}

func newRouteTable() routeTable {
	return routeTable{
		targets:  make(map[string]featureTarget),
		byServer: make(map[string][]string),
	}
}

// replace swaps serverID's entries for targets and returns the names that
// were withdrawn.
func (t routeTable) replace(serverID string, targets []featureTarget) []string {
	removed := t.drop(serverID)
	if len(targets) == 0 {
		return removed
	}
	names := make([]string, len(targets))
	for i, target := range targets {
		t.targets[target.GatewayName] = target
		names[i] = target.GatewayName
	}
	t.byServer[serverID] = names
	return removed
}

func (t routeTable) drop(serverID string) []string {
	names, ok := t.byServer[serverID]
	if !ok {
		return nil
	}
	delete(t.byServer, serverID)
	for _, name := range names {
		delete(t.targets, name)
	}
	return names
}

// featureIndex maps downstream names back to the upstream server and native
// name. Updates are per server and per kind, so a resync or a removal
// withdraws exactly what that server contributed.
type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     routeTable
	prompts   routeTable
	resources routeTable
	// nativeURIs maps resourceKey(server, upstream URI) to the gateway URI.
	nativeURIs map[string]string
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:         ns,
		tools:      newRouteTable(),
		prompts:    newRouteTable(),
		resources:  newRouteTable(),
		nativeURIs: make(map[string]string),
	}
}

func (f *featureIndex) UpdateTools(serverID string, upstream []*mcp.Tool) (removed []string, added []toolRegistration) {
	targets := make([]featureTarget, 0, len(upstream))
	for _, tool := range upstream {
		if tool == nil {
			continue
		}
		target := featureTarget{GatewayName: f.ns.ToolName(serverID, tool.Name), ServerID: serverID, Native: tool.Name}
		targets = append(targets, target)
		added = append(added, toolRegistration{Tool: cloneTool(tool, target), Target: target})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools.replace(serverID, targets), added
}

func (f *featureIndex) UpdatePrompts(serverID string, upstream []*mcp.Prompt) (removed []string, added []promptRegistration) {
	targets := make([]featureTarget, 0, len(upstream))
	for _, prompt := range upstream {
		if prompt == nil {
			continue
		}
		target := featureTarget{GatewayName: f.ns.PromptName(serverID, prompt.Name), ServerID: serverID, Native: prompt.Name}
		targets = append(targets, target)
		added = append(added, promptRegistration{Prompt: clonePrompt(prompt, target), Target: target})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts.replace(serverID, targets), added
}

func (f *featureIndex) UpdateResources(serverID string, upstream []*mcp.Resource) (removed []string, added []resourceRegistration) {
	targets := make([]featureTarget, 0, len(upstream))
	for _, resource := range upstream {
		if resource == nil {
			continue
		}
		target := featureTarget{GatewayName: f.ns.ResourceURI(serverID, resource.URI), ServerID: serverID, Native: resource.URI}
		targets = append(targets, target)
		added = append(added, resourceRegistration{Resource: cloneResource(resource, target), Target: target})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	removed = f.dropResourcesLocked(serverID)
	f.resources.replace(serverID, targets)
	for _, target := range targets {
		f.nativeURIs[resourceKey(serverID, target.Native)] = target.GatewayName
	}
	return removed, added
}

// RemoveServer forgets everything serverID contributed.
func (f *featureIndex) RemoveServer(serverID string) removal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removal{
		Tools:     f.tools.drop(serverID),
		Prompts:   f.prompts.drop(serverID),
		Resources: f.dropResourcesLocked(serverID),
	}
}

func (f *featureIndex) dropResourcesLocked(serverID string) []string {
	for _, name := range f.resources.byServer[serverID] {
		delete(f.nativeURIs, resourceKey(serverID, f.resources.targets[name].Native))
	}
	return f.resources.drop(serverID)
}

func (f *featureIndex) ToolTarget(name string) (featureTarget, bool) {
	return f.lookup(f.tools, name)
}

func (f *featureIndex) PromptTarget(name string) (featureTarget, bool) {
	return f.lookup(f.prompts, name)
}

func (f *featureIndex) ResourceTarget(uri string) (featureTarget, bool) {
	return f.lookup(f.resources, uri)
}

// ResourceTargetByNative returns the gateway URI of an upstream resource.
func (f *featureIndex) ResourceTargetByNative(serverID, nativeURI string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	uri, ok := f.nativeURIs[resourceKey(serverID, nativeURI)]
	return uri, ok
}

func (f *featureIndex) lookup(table routeTable, name string) (featureTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	target, ok := table.targets[name]
	return target, ok
}

func resourceKey(serverID, nativeURI string) string {
	return serverID + "\x00" + nativeURI
}

// cloneTool renames tool for downstream use. The go-sdk server refuses tools
// without an object input schema, so a missing or non-object schema is
// replaced by an open object schema and an unusable output schema is dropped.
func cloneTool(tool *mcp.Tool, target featureTarget) *mcp.Tool {
	clone := *tool
	clone.Name = target.GatewayName
	clone.Meta = originMeta(tool.Meta, target, metaKeyNativeName)
	if !isObjectSchema(clone.InputSchema) {
		clone.InputSchema = map[string]any{"type": "object"}
	}
	if clone.OutputSchema != nil && !isObjectSchema(clone.OutputSchema) {
		clone.OutputSchema = nil
	}
	return &clone
}

func isObjectSchema(schema any) bool {
	m, ok := schema.(map[string]any)
	return ok && m["type"] == "object"
}

func clonePrompt(prompt *mcp.Prompt, target featureTarget) *mcp.Prompt {
	clone := *prompt
	clone.Name = target.GatewayName
	clone.Meta = originMeta(prompt.Meta, target, metaKeyNativeName)
	return &clone
}

func cloneResource(resource *mcp.Resource, target featureTarget) *mcp.Resource {
	clone := *resource
	clone.URI = target.GatewayName
	clone.Meta = originMeta(resource.Meta, target, metaKeyNativeURI)
	return &clone
}

// originMeta copies base and records where the feature came from.
func originMeta(base mcp.Meta, target featureTarget, nativeKey string) mcp.Meta {
	out := maps.Clone(base)
	if out == nil {
		out = make(mcp.Meta, 2)
	}
	out[metaKeyServerID] = target.ServerID
	out[nativeKey] = target.Native
	return out
}
