// Package mcpmgr manages a named collection of Model Context Protocol (MCP)
// servers, each launched as a subprocess speaking JSON-RPC over stdio, from
// a single Go process. It layers lifecycle tracking, catalog aggregation and
// notification fan-out on top of mcpclient so callers can focus on consuming
// tools, prompts and resources.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, register servers with AddServer or AddServers, and tear
//     everything down with CloseAll.
//   - ServerConfig declares how each MCP server is launched. LoadConfigFile
//     reads them from a JSON, JSONC or YAML document with an mcpServers map.
//   - ManagerOptions set the client identity, default timeouts, JSON-RPC
//     traffic logging and the slog logger.
//
// Every tool and prompt is exposed under a qualified name of the form
// <server>_<name>; see ListAllTools, CallTool and GetPrompt. When server
// names themselves contain underscores, the longest registered server name
// wins. Resources keep their URIs and are read with ReadResource.
//
// Catalogs are loaded once when a server is added. They are refreshed only on
// request via RefreshServer; register OnToolListChanged (or the other
// notification hooks) to learn when a server's lists change.
//
// Errors are marked with the sentinels in package mcperr, so callers branch
// with errors.Is:
//
//	if _, err := m.CallTool(ctx, "calc_add", args); errors.Is(err, mcperr.ErrTransport) {
//	    _ = m.RemoveServer(ctx, "calc")
//	}
package mcpmgr
