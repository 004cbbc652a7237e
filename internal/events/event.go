package events

import "time"

// Direction distinguishes customer messages from operator replies.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageEvent is one message crossing the channel boundary, as published by
// the channel webhook and consumed by the intake workers.
type MessageEvent struct {
	EventID          string    `json:"event_id"`
	ContactID        string    `json:"contact_id"`
	ChannelAccountID string    `json:"channel_account_id"`
	Origin           string    `json:"origin"`
	Direction        Direction `json:"direction"`
	Text             string    `json:"text"`
	OccurredAt       time.Time `json:"occurred_at"`
}
