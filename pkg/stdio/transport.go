// Package stdio moves newline-delimited JSON documents between this process
// and an MCP server. ProcessTransport owns a spawned subprocess and its pipes;
// StreamTransport applies the same framing to any reader/writer pair, which is
// what ProcessTransport uses internally and what tests use for in-memory
// peers.
//
// A Transport does not interpret the documents it carries. Framing is one
// JSON document per line, terminated by '\n'.
package stdio

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

// Transport is a line-oriented, bidirectional byte stream to one MCP server.
//
// SendLine may be called concurrently with ReceiveLine, but callers must
// serialize SendLine calls among themselves. ReceiveLine must only be called
// from a single goroutine.
type Transport interface {
	// SendLine writes one JSON document followed by a newline.
	SendLine(line []byte) error
	// ReceiveLine blocks until one full newline-terminated document is
	// available. The returned slice excludes the terminator.
	ReceiveLine() ([]byte, error)
	// Close releases the underlying resources. It is idempotent.
	Close() error
}

// readBufferSize bounds the initial read buffer; longer lines still succeed.
const readBufferSize = 1 << 20

var errTransportClosed = errors.New("transport closed")

// StreamTransport frames documents over an arbitrary reader and writer.
type StreamTransport struct {
	reader *bufio.Reader
	rc     io.Closer
	writer io.WriteCloser

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport returns a transport that reads documents from r and
// writes them to w. If r implements io.Closer it is closed by Close.
func NewStreamTransport(r io.Reader, w io.WriteCloser) *StreamTransport {
	t := &StreamTransport{
		reader: bufio.NewReaderSize(r, readBufferSize),
		writer: w,
	}
	if c, ok := r.(io.Closer); ok {
		t.rc = c
	}
	return t
}

// SendLine implements Transport.
func (t *StreamTransport) SendLine(line []byte) error {
	if t.closed.Load() {
		return mcperr.Transport(errTransportClosed, nil)
	}
	if bytes.IndexByte(line, '\n') >= 0 {
		return errors.Mark(errors.New("document contains a raw newline"), mcperr.ErrProtocol)
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := t.writer.Write(buf); err != nil {
		return mcperr.Transport(errors.Wrap(err, "write to server"), nil)
	}
	return nil
}

// ReceiveLine implements Transport. A final unterminated document before EOF
// is returned as a line; the following call reports EOF.
func (t *StreamTransport) ReceiveLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			return trimLine(line), nil
		}
		if t.closed.Load() {
			return nil, mcperr.Transport(errTransportClosed, nil)
		}
		if errors.Is(err, io.EOF) {
			return nil, mcperr.Transport(errors.Wrap(err, "read from server"), mcperr.ErrEOF)
		}
		return nil, mcperr.Transport(errors.Wrap(err, "read from server"), nil)
	}
	return trimLine(line), nil
}

// Close closes the writer and, when closable, the reader.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		var errs []error
		if err := t.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		if t.rc != nil {
			if err := t.rc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

func trimLine(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
