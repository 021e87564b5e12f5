package mcpclient

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/vikashloomba/mcphost-go/pkg/mcperr"
)

const jsonrpcVersion = "2.0"

var emptyObject = json.RawMessage(`{}`)

// inbound is the closed set of messages the reader loop can receive.
type inbound interface{ isInbound() }

// inboundResponse answers one of our calls. matched is false when the id is
// not an integer, which can never match a pending request.
type inboundResponse struct {
	id      int64
	matched bool
	result  json.RawMessage
	err     *mcperr.RemoteError
}

// inboundNotification has a method and no id.
type inboundNotification struct {
	method string
	params json.RawMessage
}

// inboundRequest is a server-to-client call that expects an answer.
type inboundRequest struct {
	id     jsonrpc.ID
	method string
	params json.RawMessage
}

func (*inboundResponse) isInbound()     {}
func (*inboundNotification) isInbound() {}
func (*inboundRequest) isInbound()      {}

// encodeCall serializes {"jsonrpc","id","method","params"}.
func encodeCall(id int64, method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	reqID, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, errors.Wrapf(err, "make request id %d", id)
	}
	return jsonrpc.EncodeMessage(&jsonrpc.Request{ID: reqID, Method: method, Params: raw})
}

// encodeNotification serializes a request without an id.
func encodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return jsonrpc.EncodeMessage(&jsonrpc.Request{Method: method, Params: raw})
}

type outboundResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      any                 `json:"id"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *mcperr.RemoteError `json:"error,omitempty"`
}

// encodeResponse answers a server-initiated request with either result or
// rerr.
func encodeResponse(id jsonrpc.ID, result json.RawMessage, rerr *mcperr.RemoteError) ([]byte, error) {
	resp := outboundResponse{JSONRPC: jsonrpcVersion, ID: id.Raw(), Error: rerr}
	if rerr == nil {
		resp.Result = result
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal response")
	}
	return data, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyObject, nil
		}
		return p, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "marshal params")
	}
	if string(data) == "null" {
		return emptyObject, nil
	}
	return data, nil
}

// decodeMessage parses one line into a tagged inbound message. Lines that are
// not valid JSON-RPC 2.0 are marked mcperr.ErrProtocol.
func decodeMessage(line []byte) (inbound, error) {
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode message"), mcperr.ErrProtocol)
	}
	switch m := msg.(type) {
	case *jsonrpc.Request:
		if m.IsCall() {
			return &inboundRequest{id: m.ID, method: m.Method, params: m.Params}, nil
		}
		return &inboundNotification{method: m.Method, params: m.Params}, nil
	case *jsonrpc.Response:
		resp := &inboundResponse{result: m.Result}
		if id, ok := m.ID.Raw().(int64); ok {
			resp.id = id
			resp.matched = true
		}
		if m.Error != nil {
			resp.err = toRemoteError(m.Error)
		} else if resp.result == nil {
			resp.result = json.RawMessage("null")
		}
		return resp, nil
	default:
		return nil, errors.Mark(errors.Newf("unexpected message type %T", msg), mcperr.ErrProtocol)
	}
}

// toRemoteError copies the wire error object, including data, verbatim.
func toRemoteError(err error) *mcperr.RemoteError {
	remote := &mcperr.RemoteError{Code: mcperr.CodeInternalError, Message: err.Error()}
	data, merr := json.Marshal(err)
	if merr != nil {
		return remote
	}
	var decoded mcperr.RemoteError
	if json.Unmarshal(data, &decoded) == nil && decoded.Message != "" {
		return &decoded
	}
	return remote
}
