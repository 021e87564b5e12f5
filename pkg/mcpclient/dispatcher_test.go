package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphost-go/internal/mcptest"
	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

func TestMain(m *testing.M) {
	mcptest.RunIfServer()
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, opts DispatcherOptions) (*Dispatcher, *mcptest.Peer) {
	t.Helper()
	tr, peer := mcptest.NewPipe(t)
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	d := NewDispatcher(tr, opts)
	d.Start()
	t.Cleanup(func() { d.Close(nil) })
	return d, peer
}

type callResult struct {
	raw json.RawMessage
	err error
}

func goCall(d *Dispatcher, method string, params any, timeout time.Duration) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		raw, err := d.Call(context.Background(), method, params, timeout)
		ch <- callResult{raw, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("call did not complete")
	}
	return callResult{}
}

func TestDispatcherWireFormat(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ch := goCall(d, "tools/list", nil, 0)
	msg := peer.Read()
	assert.Equal(t, "2.0", msg.JSONRPC)
	assert.Equal(t, "tools/list", msg.Method)
	require.NotNil(t, msg.ID)
	assert.JSONEq(t, `{}`, string(msg.Params), "absent params are sent as an empty object")

	peer.Reply(*msg.ID, map[string]any{"tools": []any{}})
	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"tools":[]}`, string(r.raw))

	require.NoError(t, d.Notify("notifications/initialized", nil))
	n := peer.Read()
	assert.Nil(t, n.ID)
	assert.Equal(t, "notifications/initialized", n.Method)
}

func TestDispatcherOutOfOrderResponses(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	const n = 8
	errs := make(chan error, n)
	for i := range n {
		go func() {
			raw, err := d.Call(context.Background(), "echo", map[string]int{"n": i}, 0)
			if err != nil {
				errs <- err
				return
			}
			var got struct {
				N int `json:"n"`
			}
			if err := json.Unmarshal(raw, &got); err != nil {
				errs <- err
				return
			}
			if got.N != i {
				errs <- fmt.Errorf("caller %d received the response for %d", i, got.N)
				return
			}
			errs <- nil
		}()
	}

	msgs := make([]mcptest.Message, 0, n)
	seen := map[int64]bool{}
	for range n {
		msg := peer.Read()
		require.NotNil(t, msg.ID)
		require.False(t, seen[*msg.ID], "id %d reused", *msg.ID)
		seen[*msg.ID] = true
		msgs = append(msgs, msg)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		peer.Reply(*msgs[i].ID, msgs[i].Params)
	}
	for range n {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("caller did not complete")
		}
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherIDsStrictlyIncrease(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	var last int64
	for range 5 {
		ch := goCall(d, "ping", nil, 0)
		msg := peer.Read()
		require.NotNil(t, msg.ID)
		assert.Greater(t, *msg.ID, last)
		last = *msg.ID
		peer.Reply(*msg.ID, map[string]any{})
		require.NoError(t, wait(t, ch).err)
	}
}

func TestDispatcherTimeoutDiscardsLateResponse(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ch := goCall(d, "tools/call", map[string]any{"name": "slow"}, 50*time.Millisecond)
	late := peer.Read()
	r := wait(t, ch)
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, mcperr.ErrTimeout))
	assert.Equal(t, 0, d.Pending(), "timed out request leaves the pending table")

	// The late answer must not be delivered to the next caller.
	next := goCall(d, "tools/call", map[string]any{"name": "fast"}, 0)
	msg := peer.Read()
	require.NotEqual(t, *late.ID, *msg.ID)
	peer.Reply(*late.ID, map[string]any{"who": "late"})
	peer.Reply(*msg.ID, map[string]any{"who": "next"})

	r = wait(t, next)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"who":"next"}`, string(r.raw))
}

func TestDispatcherContextCancel(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() {
		_, err := d.Call(ctx, "tools/call", nil, 0)
		ch <- err
	}()
	peer.Read()
	cancel()

	select {
	case err := <-ch:
		assert.True(t, errors.Is(err, mcperr.ErrCancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("call ignored its context")
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherRemoteErrorVerbatim(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ch := goCall(d, "tools/call", nil, 0)
	msg := peer.Read()
	peer.ReplyError(*msg.ID, -32602, "bad arguments", map[string]any{"field": "a"})

	r := wait(t, ch)
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, mcperr.ErrRemote))

	var remote *mcperr.RemoteError
	require.True(t, errors.As(r.err, &remote))
	assert.Equal(t, int64(-32602), remote.Code)
	assert.Equal(t, "bad arguments", remote.Message)
	assert.JSONEq(t, `{"field":"a"}`, string(remote.Data))
	assert.Equal(t, "tools/call", remote.Method)
}

func TestDispatcherCloseCancelsPending(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	var chans []<-chan callResult
	for range 3 {
		chans = append(chans, goCall(d, "tools/call", nil, 0))
	}
	for range 3 {
		peer.Read()
	}
	d.Close(nil)

	for _, ch := range chans {
		r := wait(t, ch)
		assert.True(t, errors.Is(r.err, mcperr.ErrCancelled), "got %v", r.err)
	}
	_, err := d.Call(context.Background(), "ping", nil, 0)
	assert.True(t, errors.Is(err, mcperr.ErrCancelled))
}

func TestDispatcherTransportFailureFailsPending(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ch := goCall(d, "tools/call", nil, 0)
	peer.Read()
	peer.Close()

	r := wait(t, ch)
	assert.True(t, errors.Is(r.err, mcperr.ErrTransport), "got %v", r.err)
	assert.True(t, errors.Is(r.err, mcperr.ErrEOF))

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader loop still running")
	}
	_, err := d.Call(context.Background(), "ping", nil, 0)
	assert.True(t, errors.Is(err, mcperr.ErrTransport), "later calls fail fast")
}

func TestDispatcherSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	ch := goCall(d, "ping", nil, 0)
	msg := peer.Read()
	peer.Send("this is not json")
	peer.Send(`{"id":999,"result":{}}`)
	peer.Send(`{"jsonrpc":"2.0","result":{}}`)
	peer.Send("")
	peer.Reply(*msg.ID, map[string]any{"ok": true})

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"ok":true}`, string(r.raw))
}

func TestDispatcherRoutesNotifications(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got []Notification
	)
	received := make(chan struct{}, 3)
	d, peer := newTestDispatcher(t, DispatcherOptions{OnNotification: func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		received <- struct{}{}
	}})
	_ = d

	peer.Notify(MethodToolListChanged, map[string]any{})
	peer.Notify(MethodProgress, map[string]any{"progress": 1})
	peer.Notify("notifications/custom", map[string]any{"x": 1})
	for range 3 {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("notification not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, NotificationToolListChanged, got[0].Kind)
	assert.Equal(t, NotificationProgress, got[1].Kind)
	assert.JSONEq(t, `{"progress":1}`, string(got[1].Params))
	assert.Equal(t, NotificationUnknown, got[2].Kind)
	assert.Equal(t, "notifications/custom", got[2].Method)
}

func TestDispatcherAnswersServerRequests(t *testing.T) {
	t.Parallel()
	d, peer := newTestDispatcher(t, DispatcherOptions{})

	peer.Request(7, "ping")
	msg := peer.Read()
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(7), *msg.ID)
	assert.JSONEq(t, `{}`, string(msg.Result))
	assert.Nil(t, msg.Error)

	peer.Request(8, "sampling/createMessage")
	msg = peer.Read()
	require.NotNil(t, msg.Error)
	assert.Equal(t, int64(8), *msg.ID)
	assert.Equal(t, mcperr.CodeMethodNotFound, msg.Error.Code)

	assert.Equal(t, 0, d.Pending(), "server requests never enter the pending table")
}
