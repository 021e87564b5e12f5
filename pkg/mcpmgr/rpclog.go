package mcpmgr

import (
	"bytes"
	"sync"

	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

func (m *Manager) resolveLogger(cfg ServerConfig) RPCLogger {
	if !cfg.LogJSONRPC && !m.options.DefaultLogJSONRPC {
		return nil
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	logger := m.logger
	return func(event RPCLogEvent) {
		logger.Debug("MCP JSON-RPC", "mcp_server", event.ServerID, "direction", string(event.Direction), "message", string(event.Message))
	}
}

// loggingTransport reports every line that crosses the delegate.
type loggingTransport struct {
	serverID string
	delegate stdio.Transport
	logger   RPCLogger
	mu       sync.Mutex
}

var _ stdio.Transport = (*loggingTransport)(nil)

func (t *loggingTransport) SendLine(line []byte) error {
	if err := t.delegate.SendLine(line); err != nil {
		return err
	}
	t.emit(RPCDirectionSend, line)
	return nil
}

func (t *loggingTransport) ReceiveLine() ([]byte, error) {
	line, err := t.delegate.ReceiveLine()
	if err == nil {
		t.emit(RPCDirectionReceive, line)
	}
	return line, err
}

func (t *loggingTransport) Close() error { return t.delegate.Close() }

func (t *loggingTransport) emit(direction RPCDirection, line []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger(RPCLogEvent{Direction: direction, Message: bytes.Clone(line), ServerID: t.serverID})
}
