package mcpclient

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, msg inbound)
	}{
		{
			name: "response",
			line: `{"jsonrpc":"2.0","id":4,"result":{"tools":[]}}`,
			check: func(t *testing.T, msg inbound) {
				resp, ok := msg.(*inboundResponse)
				require.True(t, ok, "got %T", msg)
				assert.True(t, resp.matched)
				assert.Equal(t, int64(4), resp.id)
				assert.JSONEq(t, `{"tools":[]}`, string(resp.result))
				assert.Nil(t, resp.err)
			},
		},
		{
			name: "string id never matches",
			line: `{"jsonrpc":"2.0","id":"4","result":{}}`,
			check: func(t *testing.T, msg inbound) {
				resp, ok := msg.(*inboundResponse)
				require.True(t, ok, "got %T", msg)
				assert.False(t, resp.matched)
			},
		},
		{
			name: "error response",
			line: `{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"boom","data":[1,2]}}`,
			check: func(t *testing.T, msg inbound) {
				resp, ok := msg.(*inboundResponse)
				require.True(t, ok, "got %T", msg)
				require.NotNil(t, resp.err)
				assert.Equal(t, int64(-32000), resp.err.Code)
				assert.Equal(t, "boom", resp.err.Message)
				assert.JSONEq(t, `[1,2]`, string(resp.err.Data))
			},
		},
		{
			name: "notification",
			line: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`,
			check: func(t *testing.T, msg inbound) {
				n, ok := msg.(*inboundNotification)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, MethodToolListChanged, n.method)
			},
		},
		{
			name: "server request",
			line: `{"jsonrpc":"2.0","id":"srv-1","method":"ping"}`,
			check: func(t *testing.T, msg inbound) {
				req, ok := msg.(*inboundRequest)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "ping", req.method)
				assert.Equal(t, "srv-1", req.id.Raw())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeMessage([]byte(tt.line))
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestDecodeMessageRejectsInvalid(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		`not json`,
		`{"id":1,"result":{}}`,
		`[1,2,3]`,
	} {
		_, err := decodeMessage([]byte(line))
		require.Error(t, err, line)
		assert.True(t, errors.Is(err, mcperr.ErrProtocol), line)
	}
}

func TestEncodeResponseEchoesID(t *testing.T) {
	t.Parallel()
	msg, err := decodeMessage([]byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`))
	require.NoError(t, err)
	req := msg.(*inboundRequest)

	data, err := encodeResponse(req.id, emptyObject, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","result":{}}`, string(data))

	data, err = encodeResponse(req.id, nil, &mcperr.RemoteError{Code: mcperr.CodeMethodNotFound, Message: "Method not found"})
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "result")
	assert.JSONEq(t, `{"code":-32601,"message":"Method not found"}`, string(decoded["error"]))
}

func TestMarshalParams(t *testing.T) {
	t.Parallel()
	for _, params := range []any{nil, json.RawMessage(nil), (*struct{})(nil)} {
		raw, err := marshalParams(params)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(raw))
	}
	raw, err := marshalParams(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}
