package mcpclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

// maxPages bounds pagination against servers that never stop returning a
// cursor.
const maxPages = 1000

// Lister is the part of a Session a Catalog refresh needs.
type Lister interface {
	ListTools(ctx context.Context, cursor string) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, cursor string) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, cursor string) (*mcp.ListPromptsResult, error)
}

// Snapshot is an immutable view of one server's tools, resources and
// prompts, in server order.
type Snapshot struct {
	Tools       []*mcp.Tool
	Resources   []*mcp.Resource
	Prompts     []*mcp.Prompt
	RefreshedAt time.Time

	tools     map[string]*mcp.Tool
	resources map[string]*mcp.Resource
	prompts   map[string]*mcp.Prompt
}

var emptySnapshot = &Snapshot{}

// Tool looks up a tool by name.
func (s *Snapshot) Tool(name string) (*mcp.Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Resource looks up a resource by URI.
func (s *Snapshot) Resource(uri string) (*mcp.Resource, bool) {
	r, ok := s.resources[uri]
	return r, ok
}

// Prompt looks up a prompt by name.
func (s *Snapshot) Prompt(name string) (*mcp.Prompt, bool) {
	p, ok := s.prompts[name]
	return p, ok
}

// Catalog holds the latest Snapshot. Readers never observe a partially
// refreshed catalog: a refresh builds a new snapshot and swaps it in whole.
type Catalog struct {
	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.current.Store(emptySnapshot)
	return c
}

// Snapshot returns the current view. It is never nil.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh issues all three listing calls, following pagination cursors, and
// replaces the snapshot. On failure the previous snapshot stays. A family
// whose list method is not found is treated as empty, so servers that lack a
// family need not advertise it.
func (c *Catalog) Refresh(ctx context.Context, l Lister) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	tools, err := listAll(ctx, MethodToolsList, func(ctx context.Context, cursor string) ([]*mcp.Tool, string, error) {
		res, err := l.ListTools(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Tools, res.NextCursor, nil
	})
	if err != nil {
		return err
	}
	resources, err := listAll(ctx, MethodResourcesList, func(ctx context.Context, cursor string) ([]*mcp.Resource, string, error) {
		res, err := l.ListResources(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Resources, res.NextCursor, nil
	})
	if err != nil {
		return err
	}
	prompts, err := listAll(ctx, MethodPromptsList, func(ctx context.Context, cursor string) ([]*mcp.Prompt, string, error) {
		res, err := l.ListPrompts(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return res.Prompts, res.NextCursor, nil
	})
	if err != nil {
		return err
	}

	next := &Snapshot{RefreshedAt: time.Now()}
	next.Tools, next.tools = dedupe(tools, func(t *mcp.Tool) string { return t.Name })
	next.Resources, next.resources = dedupe(resources, func(r *mcp.Resource) string { return r.URI })
	next.Prompts, next.prompts = dedupe(prompts, func(p *mcp.Prompt) string { return p.Name })
	c.current.Store(next)
	return nil
}

func listAll[T any](ctx context.Context, method string, page func(context.Context, string) ([]*T, string, error)) ([]*T, error) {
	var (
		all    []*T
		cursor string
		seen   = map[string]bool{}
	)
	for range maxPages {
		items, nextCursor, err := page(ctx, cursor)
		if err != nil {
			if mcperr.IsMethodNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		all = append(all, items...)
		if nextCursor == "" {
			return all, nil
		}
		if seen[nextCursor] {
			return nil, errors.Mark(errors.Newf("%s: server repeated cursor %q", method, nextCursor), mcperr.ErrProtocol)
		}
		seen[nextCursor] = true
		cursor = nextCursor
	}
	return nil, errors.Mark(errors.Newf("%s: more than %d pages", method, maxPages), mcperr.ErrProtocol)
}

// dedupe keeps one entry per key. A later duplicate replaces the earlier one
// but keeps the earlier position.
func dedupe[T any](items []*T, key func(*T) string) ([]*T, map[string]*T) {
	index := make(map[string]int, len(items))
	out := make([]*T, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	byKey := make(map[string]*T, len(out))
	for _, item := range out {
		byKey[key(item)] = item
	}
	return out, byKey
}
