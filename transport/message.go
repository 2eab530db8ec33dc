// Package transport implements the broker wire protocol described in
// spec.md §4.3/§6: a task socket (ROUTER/DEALER-shaped) carrying
// INIT/REQUEST/TASK/REPLY/VARIABLE/SHUTDOWN/TASKEND/CONNECT envelopes, and an
// info socket (PUB-shaped) broadcasting VARIABLE/TASKEND/SHUTDOWN.
//
// The original uses ZeroMQ's multipart ROUTER/DEALER/PUB sockets. This
// module has no ZeroMQ binding in its dependency corpus, so the same
// sender-identity framing is carried over gorilla/websocket connections
// instead (grounded on TheEntropyCollective-noisefs, which runs a
// connection-identity-keyed websocket hub in cmd/announce-webui): a
// websocket connection IS the sender identity, exactly as a DEALER socket's
// identity frame is the connection identity in ZeroMQ.
package transport

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type identifies the kind of message carried in an Envelope.
type Type string

const (
	TypeInit     Type = "INIT"
	TypeRequest  Type = "REQUEST"
	TypeTask     Type = "TASK"
	TypeReply    Type = "REPLY"
	TypeVariable Type = "VARIABLE"
	TypeShutdown Type = "SHUTDOWN"
	TypeTaskEnd  Type = "TASKEND"
	TypeConnect  Type = "CONNECT"
)

// Envelope is the single-frame JSON equivalent of a ZeroMQ multipart message
// [sender_id, msg_type, ...payload]. Sender is populated by the transport
// layer from the connection identity, not by the caller, mirroring how a
// ROUTER socket prepends the identity frame itself.
type Envelope struct {
	Sender  string            `json:"sender,omitempty"`
	Type    Type              `json:"type"`
	Payload []json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope of the given type, marshaling each part of
// payload into its own frame (so the REPLY destination-frame layout chosen
// in spec.md §9 item 2 — [sender_id, REPLY, payload, destination_id] — maps
// onto Payload[0]=future, Payload[1]=destination).
func NewEnvelope(t Type, parts ...any) (Envelope, error) {
	env := Envelope{Type: t}
	for _, p := range parts {
		raw, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = append(env.Payload, raw)
	}
	return env, nil
}

// Decode unmarshals the idx'th payload frame into out.
func (e Envelope) Decode(idx int, out any) error {
	if idx < 0 || idx >= len(e.Payload) {
		return ErrMissingFrame
	}
	return json.Unmarshal(e.Payload[idx], out)
}
