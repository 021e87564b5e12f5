package mcptest

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

// readTimeout bounds how long a Peer waits for the client to send something.
const readTimeout = 5 * time.Second

// Message is a decoded JSON-RPC message as seen by a Peer.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Peer is the server end of an in-memory connection. Tests script it line by
// line to produce orderings a real server would rarely hit.
type Peer struct {
	t     testing.TB
	out   *os.File
	lines chan []byte
}

// NewPipe returns a client transport and the Peer on the other end. Both are
// closed when the test ends.
func NewPipe(t testing.TB) (*stdio.StreamTransport, *Peer) {
	t.Helper()
	c2sR, c2sW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	s2cR, s2cW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	client := stdio.NewStreamTransport(s2cR, c2sW)
	p := &Peer{t: t, out: s2cW, lines: make(chan []byte, 128)}

	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(c2sR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			p.lines <- append([]byte(nil), scanner.Bytes()...)
		}
	}()

	t.Cleanup(func() {
		client.Close()
		s2cW.Close()
		c2sR.Close()
	})
	return client, p
}

// Read returns the next message the client sent, failing the test after a
// timeout.
func (p *Peer) Read() Message {
	p.t.Helper()
	select {
	case line, ok := <-p.lines:
		if !ok {
			p.t.Fatalf("client closed its output")
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			p.t.Fatalf("client sent invalid JSON %q: %v", line, err)
		}
		return msg
	case <-time.After(readTimeout):
		p.t.Fatalf("timed out waiting for the client")
	}
	return Message{}
}

// ReadClosed waits until the client closes its output, failing the test if
// it sends anything else first.
func (p *Peer) ReadClosed() {
	p.t.Helper()
	select {
	case line, ok := <-p.lines:
		if ok {
			p.t.Fatalf("expected the client to close, got %s", line)
		}
	case <-time.After(readTimeout):
		p.t.Fatalf("timed out waiting for the client to close")
	}
}

// Send writes one raw line to the client.
func (p *Peer) Send(line string) {
	p.t.Helper()
	if _, err := p.out.WriteString(line + "\n"); err != nil {
		p.t.Fatalf("write to client: %v", err)
	}
}

// Reply answers request id with result.
func (p *Peer) Reply(id int64, result any) {
	p.t.Helper()
	p.sendJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// ReplyError answers request id with a JSON-RPC error object.
func (p *Peer) ReplyError(id int64, code int64, message string, data any) {
	p.t.Helper()
	obj := map[string]any{"code": code, "message": message}
	if data != nil {
		obj["data"] = data
	}
	p.sendJSON(map[string]any{"jsonrpc": "2.0", "id": id, "error": obj})
}

// Notify sends a notification to the client.
func (p *Peer) Notify(method string, params any) {
	p.t.Helper()
	p.sendJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// Request sends a server-initiated request to the client.
func (p *Peer) Request(id int64, method string) {
	p.t.Helper()
	p.sendJSON(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": map[string]any{}})
}

// Handshake answers the client's initialize request with version and
// capabilities, then consumes the initialized notification.
func (p *Peer) Handshake(version string, capabilities map[string]any) {
	p.t.Helper()
	msg := p.Read()
	if msg.Method != "initialize" || msg.ID == nil {
		p.t.Fatalf("expected initialize request, got %+v", msg)
	}
	if capabilities == nil {
		capabilities = map[string]any{}
	}
	p.Reply(*msg.ID, map[string]any{
		"protocolVersion": version,
		"capabilities":    capabilities,
		"serverInfo":      map[string]any{"name": "peer", "version": "1.0.0"},
	})
	if n := p.Read(); n.Method != "notifications/initialized" || n.ID != nil {
		p.t.Fatalf("expected initialized notification, got %+v", n)
	}
}

// Close closes the server's output, which the client sees as EOF.
func (p *Peer) Close() {
	p.out.Close()
}

func (p *Peer) sendJSON(v any) {
	p.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		p.t.Fatalf("marshal: %v", err)
	}
	p.Send(string(data))
}
