package mcpmgr

import (
	"log/slog"
	"time"
)

// DefaultTimeout applies to servers whose configuration omits a timeout.
const DefaultTimeout = 30 * time.Second

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// ServerConfig describes an MCP server launched as a subprocess speaking
// JSON-RPC over its stdin and stdout. It is copied when a server is added and
// never changes afterwards.
type ServerConfig struct {
	// Name is the unique key of the server and the prefix of its qualified
	// tool names.
	Name string
	// Command is the executable, resolved through PATH when it has no
	// separator.
	Command string
	Args    []string
	// Env overrides or extends the inherited environment.
	Env map[string]string
	// Dir is the working directory of the subprocess.
	Dir string
	// Timeout bounds every request to this server. Zero means the manager
	// default.
	Timeout time.Duration
	// LogJSONRPC reports this server's traffic to the manager's RPCLogger,
	// or to the manager's logger at debug level when none is set.
	LogJSONRPC bool
	// OnError is called when the server's session ends with an error, for
	// example because the subprocess died.
	OnError func(error)
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised as clientInfo.name during initialization.
	ClientName string
	// ClientVersion is advertised as clientInfo.version.
	ClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// ShutdownGrace is how long a closing server may take to exit after
	// SIGTERM before it is killed.
	ShutdownGrace time.Duration
	// DefaultLogJSONRPC toggles JSON-RPC traffic logging for all servers.
	DefaultLogJSONRPC bool
	// RPCLogger receives JSON-RPC traffic for servers with logging enabled.
	RPCLogger RPCLogger
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// MaxConcurrentAdds bounds AddServers. Zero means 4.
	MaxConcurrentAdds int
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var out ManagerOptions
	if o != nil {
		out = *o
	}
	if out.ClientName == "" {
		out.ClientName = "mcphost"
	}
	if out.ClientVersion == "" {
		out.ClientVersion = "1.0.0"
	}
	if out.DefaultTimeout <= 0 {
		out.DefaultTimeout = DefaultTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.MaxConcurrentAdds <= 0 {
		out.MaxConcurrentAdds = 4
	}
	return out
}
