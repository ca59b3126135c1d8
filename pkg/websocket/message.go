// Package websocket defines the wire protocol of the sync fabric: the
// broadcast envelope pushed for every domain event, and the small command
// vocabulary clients may send back.
package websocket

import "time"

// Broadcast is the envelope fanned out to every matching client. Type and
// Event carry the same colon-form event name; Type exists so clients can
// switch on one field for both broadcasts and acks.
type Broadcast struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewBroadcast wraps an event payload in the wire envelope.
func NewBroadcast(event string, data interface{}) *Broadcast {
	return &Broadcast{
		Type:      event,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Client command types.
const (
	CommandSubscribe = "subscribe"
	CommandPing      = "ping"
)

// Command is a client-to-server control message. A subscribe with SessionIDs
// narrows the client to events concerning those sessions; without them it
// resets the client to the firehose.
type Command struct {
	Type       string   `json:"type"`
	SessionIDs []string `json:"sessionIds,omitempty"`
}

// Ack types.
const (
	AckSubscribed = "subscribed"
	AckPong       = "pong"
	AckError      = "error"
)

// Ack answers a client command.
type Ack struct {
	Type       string    `json:"type"`
	SessionIDs []string  `json:"sessionIds,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewAck creates a command acknowledgement.
func NewAck(ackType string) *Ack {
	return &Ack{Type: ackType, Timestamp: time.Now().UTC()}
}
