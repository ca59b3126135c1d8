package v1

// MessageStatus tracks an inter-session message through its delivery lifecycle.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageExpired   MessageStatus = "expired"
)

// MessageMetadata carries optional routing hints on a message.
type MessageMetadata struct {
	TaskID   string `json:"taskId,omitempty"`
	Type     string `json:"type,omitempty"`
	Priority string `json:"priority,omitempty"`
}
