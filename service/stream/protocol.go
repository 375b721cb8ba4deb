package stream

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 framing for the Solana WebSocket API.
// https://solana.com/docs/rpc/websocket

const (
	jsonrpcVersion = "2.0"

	methodAccountSubscribe    = "accountSubscribe"
	methodAccountUnsubscribe  = "accountUnsubscribe"
	methodAccountNotification = "accountNotification"
	methodGetHealth           = "getHealth"
)

// keepaliveProbeID is the reserved correlation id for keepalive probes.
// Subscribe/unsubscribe ids are allocated from a counter starting at 1,
// so id 0 never collides with a real request.
const keepaliveProbeID uint64 = 0

// request is an outbound JSON-RPC request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// newAccountSubscribe builds a subscribe request for the given address.
// jsonParsed encoding keeps the notification payload small; confirmed
// commitment matches the seed balance fetch.
func newAccountSubscribe(id uint64, address string) request {
	return request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  methodAccountSubscribe,
		Params: []any{
			address,
			map[string]string{
				"encoding":   "jsonParsed",
				"commitment": "confirmed",
			},
		},
	}
}

// newAccountUnsubscribe builds an unsubscribe request for a remote-assigned
// subscription identifier.
func newAccountUnsubscribe(id, subscriptionID uint64) request {
	return request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  methodAccountUnsubscribe,
		Params:  []any{subscriptionID},
	}
}

// newHealthProbe builds the keepalive request. The response is matched by
// keepaliveProbeID and discarded.
func newHealthProbe() request {
	return request{
		JSONRPC: jsonrpcVersion,
		ID:      keepaliveProbeID,
		Method:  methodGetHealth,
	}
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// inboundMessage is the superset envelope of everything the endpoint sends:
// responses carry an id and result/error, notifications carry a method and
// params. Unknown shapes are ignored for forward compatibility.
type inboundMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Params  json.RawMessage `json:"params"`
}

// accountNotificationParams is the params member of an accountNotification.
// Value is nil when the account does not exist at that slot (closed
// account); the session treats that as "no update".
type accountNotificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Lamports uint64 `json:"lamports"`
		} `json:"value"`
	} `json:"result"`
}

// parseInbound decodes a raw frame into the envelope. It returns an error
// for frames that are not valid JSON objects; callers drop and log those.
func parseInbound(data []byte) (*inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &msg, nil
}

// parseNotification decodes the params of an accountNotification.
func parseNotification(params json.RawMessage) (*accountNotificationParams, error) {
	var n accountNotificationParams
	if err := json.Unmarshal(params, &n); err != nil {
		return nil, fmt.Errorf("malformed notification params: %w", err)
	}
	return &n, nil
}
