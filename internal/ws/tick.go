package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"smartparking/internal/models"
)

var (
	errNotTick       = errors.New("ws: message is not a tick")
	errMissingAmount = errors.New("ws: tick without amount_cents")
	errNegative      = errors.New("ws: negative amount_cents")
	errOtherSession  = errors.New("ws: tick for another session")
)

type tickFrame struct {
	Type        string           `json:"type"`
	AmountCents *json.RawMessage `json:"amount_cents"`
	SessionID   string           `json:"session_id,omitempty"`
}

// ParseTick decodes a live message for sessionID. Anything that is not a well formed tick
// for this session returns an error and must be dropped by the caller.
func ParseTick(sessionID string, raw []byte) (models.Tick, error) {
	var frame tickFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.Tick{}, fmt.Errorf("ws: decode tick: %w", err)
	}
	if frame.Type != models.TickMessageType {
		return models.Tick{}, errNotTick
	}
	if frame.AmountCents == nil || bytes.Equal(bytes.TrimSpace(*frame.AmountCents), []byte("null")) {
		return models.Tick{}, errMissingAmount
	}

	var amount int64
	if err := json.Unmarshal(*frame.AmountCents, &amount); err != nil {
		return models.Tick{}, fmt.Errorf("ws: amount_cents: %w", err)
	}
	if amount < 0 {
		return models.Tick{}, errNegative
	}
	if frame.SessionID != "" && frame.SessionID != sessionID {
		return models.Tick{}, errOtherSession
	}
	return models.Tick{SessionID: sessionID, AmountCents: amount}, nil
}
