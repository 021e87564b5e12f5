package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
	"github.com/vikashloomba/mcphost-go/pkg/stdio"
)

const (
	// DefaultRequestTimeout applies when a call does not set its own.
	DefaultRequestTimeout = 30 * time.Second

	notificationQueueSize = 64
	maxLoggedLine         = 512
)

// pendingCall is an in-flight request. Whoever removes it from the pending
// table resolves it, so it is resolved exactly once.
type pendingCall struct {
	id      int64
	method  string
	created time.Time
	done    chan struct{}
	result  json.RawMessage
	err     error
}

func (p *pendingCall) resolve(result json.RawMessage, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Logger receives malformed-line and unmatched-response diagnostics.
	Logger *slog.Logger
	// OnNotification receives server notifications. May be nil.
	OnNotification NotificationHandler
	// DefaultTimeout is used when Call gets a non-positive timeout.
	DefaultTimeout time.Duration
}

// Dispatcher correlates JSON-RPC requests with responses over one Transport.
// A single reader goroutine owns the receive side; sends are serialized by a
// writer lock so concurrent callers never interleave bytes.
type Dispatcher struct {
	transport stdio.Transport
	logger    *slog.Logger
	timeout   time.Duration
	onNotify  NotificationHandler

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]*pendingCall
	failure error

	notifications chan Notification
	startOnce     sync.Once
	done          chan struct{}
}

// NewDispatcher returns a dispatcher over t. Call Start to begin reading.
func NewDispatcher(t stdio.Transport, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Dispatcher{
		transport:     t,
		logger:        logger,
		timeout:       timeout,
		onNotify:      opts.OnNotification,
		pending:       make(map[int64]*pendingCall),
		notifications: make(chan Notification, notificationQueueSize),
		done:          make(chan struct{}),
	}
}

// Start launches the reader loop. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.readLoop()
		go d.notifyLoop()
	})
}

// Done is closed when the reader loop exits.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that stopped the dispatcher, or nil while it runs.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failure
}

// Pending returns the number of requests awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Call sends method with params and blocks until the matching response
// arrives, the timeout elapses, ctx is done, or the dispatcher stops.
//
// A JSON-RPC error response is returned as *mcperr.RemoteError. A timeout is
// marked mcperr.ErrTimeout; a stopped dispatcher yields the stop cause.
func (d *Dispatcher) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = d.timeout
	}

	d.mu.Lock()
	if d.failure != nil {
		err := d.failure
		d.mu.Unlock()
		return nil, errors.Wrapf(err, "%s", method)
	}
	id := d.nextID.Add(1)
	p := &pendingCall{id: id, method: method, created: time.Now(), done: make(chan struct{})}
	d.pending[id] = p
	d.mu.Unlock()

	line, err := encodeCall(id, method, params)
	if err != nil {
		d.take(id)
		return nil, errors.Wrapf(err, "encode %s", method)
	}
	if err := d.send(line); err != nil {
		if d.take(id) != nil {
			return nil, errors.Wrapf(err, "send %s (id %d)", method, id)
		}
		<-p.done
		return p.result, p.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result, p.err
	case <-timer.C:
		if d.take(id) != nil {
			d.logger.Debug("MCP request timed out", "method", method, "id", id, "timeout", timeout)
			return nil, errors.Mark(errors.Newf("%s (id %d): no response after %s", method, id, timeout), mcperr.ErrTimeout)
		}
	case <-ctx.Done():
		if d.take(id) != nil {
			kind := mcperr.ErrCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = mcperr.ErrTimeout
			}
			return nil, errors.Mark(errors.Wrapf(ctx.Err(), "%s (id %d)", method, id), kind)
		}
	}
	// Another goroutine took the entry first and is resolving it.
	<-p.done
	return p.result, p.err
}

// Notify sends a notification; no response is expected.
func (d *Dispatcher) Notify(method string, params any) error {
	if err := d.Err(); err != nil {
		return errors.Wrapf(err, "%s", method)
	}
	line, err := encodeNotification(method, params)
	if err != nil {
		return errors.Wrapf(err, "encode %s", method)
	}
	if err := d.send(line); err != nil {
		return errors.Wrapf(err, "send %s", method)
	}
	return nil
}

// Close fails every pending request with cause, and every later call too.
// The first stop cause wins. It does not close the transport.
func (d *Dispatcher) Close(cause error) {
	if cause == nil {
		cause = errors.Mark(errors.New("session closed"), mcperr.ErrCancelled)
	}
	d.fail(cause)
}

func (d *Dispatcher) send(line []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.transport.SendLine(line)
}

func (d *Dispatcher) take(id int64) *pendingCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return p
}

// fail records cause and drains the pending table.
func (d *Dispatcher) fail(cause error) {
	d.mu.Lock()
	if d.failure == nil {
		d.failure = cause
	}
	cause = d.failure
	drained := d.pending
	d.pending = make(map[int64]*pendingCall)
	d.mu.Unlock()

	for _, p := range drained {
		p.resolve(nil, errors.Wrapf(cause, "%s (id %d)", p.method, p.id))
	}
}

func (d *Dispatcher) readLoop() {
	defer close(d.done)
	defer close(d.notifications)

	for {
		line, err := d.transport.ReceiveLine()
		if err != nil {
			d.logger.Debug("MCP reader loop stopped", "error", err)
			d.fail(err)
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := decodeMessage(line)
		if err != nil {
			d.logger.Warn("discarding malformed MCP message", "error", err, "line", truncate(line))
			continue
		}
		switch m := msg.(type) {
		case *inboundResponse:
			d.deliver(m)
		case *inboundNotification:
			d.enqueue(m)
		case *inboundRequest:
			d.answer(m)
		}
	}
}

func (d *Dispatcher) deliver(m *inboundResponse) {
	var p *pendingCall
	if m.matched {
		p = d.take(m.id)
	}
	if p == nil {
		d.logger.Warn("discarding MCP response with no pending request", "id", m.id)
		return
	}
	if m.err != nil {
		remote := *m.err
		remote.Method = p.method
		p.resolve(nil, &remote)
		return
	}
	p.resolve(m.result, nil)
}

// enqueue hands a notification to the notifier goroutine without blocking
// the reader loop.
func (d *Dispatcher) enqueue(m *inboundNotification) {
	n := Notification{Kind: ClassifyNotification(m.method), Method: m.method, Params: m.params}
	if d.onNotify == nil {
		d.logger.Debug("MCP notification", "method", m.method)
		return
	}
	select {
	case d.notifications <- n:
	default:
		d.logger.Warn("MCP notification queue full, dropping", "method", m.method)
	}
}

func (d *Dispatcher) notifyLoop() {
	for n := range d.notifications {
		d.dispatchNotification(n)
	}
}

func (d *Dispatcher) dispatchNotification(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("MCP notification handler panicked", "method", n.Method, "panic", r)
		}
	}()
	d.onNotify(n)
}

// answer replies to server-initiated requests. Only ping is supported.
func (d *Dispatcher) answer(m *inboundRequest) {
	var (
		line []byte
		err  error
	)
	if m.method == MethodPing {
		line, err = encodeResponse(m.id, emptyObject, nil)
	} else {
		d.logger.Debug("rejecting server-initiated request", "method", m.method)
		line, err = encodeResponse(m.id, nil, &mcperr.RemoteError{
			Code:    mcperr.CodeMethodNotFound,
			Message: "method not found: " + m.method,
		})
	}
	if err != nil {
		d.logger.Warn("failed to encode reply to server request", "method", m.method, "error", err)
		return
	}
	if err := d.send(line); err != nil {
		d.logger.Debug("failed to reply to server request", "method", m.method, "error", err)
	}
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}
	return string(line[:maxLoggedLine]) + "..."
}
