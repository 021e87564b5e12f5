// Package mcpclient speaks the Model Context Protocol to a single server over
// a line-oriented stdio.Transport.
//
// A Dispatcher correlates JSON-RPC requests and responses: every request gets
// a fresh integer id, a pending entry and its own timeout, and one reader
// goroutine routes responses, notifications and server-initiated pings. A
// Session layers the MCP handshake and typed operations on top, and a Catalog
// caches the tools, resources and prompts the server advertises.
//
//	t, err := stdio.Open(stdio.Command{Path: "uvx", Args: []string{"mcp-server-time"}})
//	if err != nil {
//	    return err
//	}
//	s := mcpclient.NewSession("time", t, mcpclient.Options{})
//	defer s.Close()
//	if err := s.Initialize(ctx); err != nil {
//	    return err
//	}
//	if err := s.Refresh(ctx); err != nil {
//	    return err
//	}
//	for _, tool := range s.Catalog().Snapshot().Tools {
//	    fmt.Println(tool.Name)
//	}
package mcpclient
