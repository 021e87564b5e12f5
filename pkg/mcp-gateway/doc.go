// Package mcpgateway re-exposes the servers of an mcpmgr.Manager as a single
// Streamable HTTP MCP server. Each upstream tool and prompt is advertised
// under its qualified name ("calc_add"), each resource under a URI that
// encodes its origin, and calls are routed back through the manager. The
// gateway follows servers as they are added or removed and refreshes a
// server's catalog when it reports a list change.
package mcpgateway
