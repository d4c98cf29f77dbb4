package pubsub

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var jsonConfig = jsoniter.ConfigCompatibleWithStandardLibrary

// ConnectionId identifies one live client connection.
type ConnectionId uint64

// RequestContext describes the request that created a subscription. Its Seq and Method are echoed back on every
// event delivered for that subscription.
type RequestContext struct {
	ConnectionId ConnectionId `json:"connection_id"`
	UserId       string       `json:"user_id,omitempty"`
	Seq          uint32       `json:"seq"`
	Method       uint32       `json:"method"`
	RemoteAddr   string       `json:"remote_addr,omitempty"`
}

// Topic is a key of the registry. Code is the numeric stream code reported to clients.
type Topic interface {
	comparable
	Code() uint32
}

// StreamResponse is one event pushed to one subscriber.
type StreamResponse struct {
	Type        string          `json:"type"`
	OriginalSeq uint32          `json:"original_seq"`
	Method      uint32          `json:"method"`
	StreamSeq   uint32          `json:"stream_seq"`
	StreamCode  uint32          `json:"stream_code"`
	Data        json.RawMessage `json:"data"`
}

const StreamResponseType = "stream"

// Sender delivers a message to a connection. It returns false when the connection is gone, in which case the
// subscriber is dropped.
type Sender interface {
	Send(connId ConnectionId, msg interface{}) bool
}

// SubscriberContext is a subscription together with the sequence number of the next event it will receive.
type SubscriberContext struct {
	Ctx       RequestContext
	StreamSeq uint32
}
