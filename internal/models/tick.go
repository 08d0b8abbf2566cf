package models

// TickMessageType is the only inbound message type on the live channel.
const TickMessageType = "tick"

// Tick is one live cost observation for a session. It is never persisted.
type Tick struct {
	SessionID   string
	AmountCents int64
}
