package proto

import "encoding/json"

// Envelope frames every message exchanged over the WebSocket in both directions.
// ID correlates a reply (or the items of a stream) with the request that opened it.
type Envelope struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

const (
	ProtocolVersion = 3

	TypeHandshake  = "handshake"
	TypeFetchTable = "fetch_table"
	TypeSubscribe  = "subscribe"
	TypeCancel     = "cancel"

	TypeTable     = "table"
	TypeStreamEnd = "end"
	TypeError     = "error"
)

// Error codes carried in Error.Code.
const (
	CodeUnsupportedVersion = "unsupported_version"
	CodeUnknownClient      = "unknown_client"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

// ClientHandshake opens a session.
type ClientHandshake struct {
	Protocol   int    `json:"protocol"`
	InstanceID string `json:"instance_id,omitempty"`
}

// ServerHandshake answers a ClientHandshake.
type ServerHandshake struct {
	Supported bool  `json:"supported"`
	ClientID  int32 `json:"client_id"`
}

// FetchTableRequest resolves a table name to its id.
type FetchTableRequest struct {
	ClientID int32  `json:"client_id"`
	Name     string `json:"name"`
}

// SubscribeTableRequest opens the table announcement stream.
type SubscribeTableRequest struct {
	ClientID int32 `json:"client_id"`
}

// TableResponse is both the fetch reply and the stream item.
type TableResponse struct {
	Name    string `json:"name"`
	TableID int32  `json:"table_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewEnvelope marshals v into the Data of a new envelope.
func NewEnvelope(typ string, id uint64, v any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if v == nil {
		return env, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

// ErrorEnvelope builds an error reply for request id.
func ErrorEnvelope(id uint64, code, msg string) Envelope {
	return Envelope{Type: TypeError, ID: id, Error: &Error{Code: code, Msg: msg}}
}
