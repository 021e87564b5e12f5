// Package mcperr defines the error taxonomy shared by the stdio transport,
// the protocol session, and the manager. Failures are wrapped with context and
// marked with one of the sentinels below, so callers branch with errors.Is
// regardless of which layer produced the error:
//
//	if errors.Is(err, mcperr.ErrTransport) {
//	    // the server's pipes are gone; remove and re-add it
//	}
//
// Errors returned by a server as a JSON-RPC error object surface as
// *RemoteError, which also matches ErrRemote.
package mcperr

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for each failure category.
var (
	// ErrSpawn indicates the server subprocess could not be started.
	ErrSpawn = errors.New("spawn failed")

	// ErrTransport indicates a broken pipe or an unexpected process exit.
	ErrTransport = errors.New("transport failure")

	// ErrEOF indicates the server closed its output. Always also ErrTransport.
	ErrEOF = errors.New("server closed its output")

	// ErrProcessExited indicates the server process terminated while the
	// session was still in use. Always also ErrTransport.
	ErrProcessExited = errors.New("server process exited")

	// ErrProtocol indicates a message that is not valid JSON or violates the
	// JSON-RPC 2.0 envelope.
	ErrProtocol = errors.New("protocol violation")

	// ErrHandshake indicates the initialize exchange failed.
	ErrHandshake = errors.New("handshake failed")

	// ErrVersionMismatch indicates the server answered with a protocol version
	// the client cannot speak. Always also ErrHandshake.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrTimeout indicates no response arrived within the request deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the session or manager shut down while the
	// request was in flight.
	ErrCancelled = errors.New("request cancelled")

	// ErrNotInitialized indicates a request was attempted before the session
	// completed its handshake, or after it closed.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrRemote matches every *RemoteError.
	ErrRemote = errors.New("remote error")

	// ErrUnknownServer indicates no server is registered under the name.
	ErrUnknownServer = errors.New("unknown server")

	// ErrUnknownTool indicates the server has not advertised the tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnknownPrompt indicates the server has not advertised the prompt.
	ErrUnknownPrompt = errors.New("unknown prompt")

	// ErrUnknownResource indicates no mirrored resource has the URI.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrDuplicateServerName indicates a server is already registered (or
	// being registered) under the name.
	ErrDuplicateServerName = errors.New("duplicate server name")

	// ErrInvalidConfig indicates a server configuration failed validation.
	ErrInvalidConfig = errors.New("invalid server configuration")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

// RemoteError is a JSON-RPC error object returned by a server. Code, Message
// and Data are carried verbatim from the wire.
type RemoteError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Method is the request method that produced the error. It is not part
	// of the wire object.
	Method string `json:"-"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s: remote error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Is reports whether target is ErrRemote.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// IsMethodNotFound reports whether err carries the JSON-RPC "method not
// found" code.
func IsMethodNotFound(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code == CodeMethodNotFound
	}
	return false
}

// Transport marks err as a transport failure and, when kind is non-nil, with
// the more specific kind as well (ErrEOF or ErrProcessExited).
func Transport(err error, kind error) error {
	if err == nil {
		return nil
	}
	err = errors.Mark(err, ErrTransport)
	if kind != nil {
		err = errors.Mark(err, kind)
	}
	return err
}

// Handshake marks err as a handshake failure.
func Handshake(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrHandshake)
}
