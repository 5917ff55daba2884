package domain

import "time"

type EventType string

const (
	EventDialing   EventType = "call.dialing"
	EventScheduled EventType = "call.scheduled"
	EventConfirmed EventType = "call.confirmed"
	EventEscalated EventType = "call.escalated"
	EventCancelled EventType = "call.cancelled"
)

// Event describes one transition of a CallTask for downstream consumers.
type Event struct {
	ID             string     `json:"id"`
	Type           EventType  `json:"type"`
	ContactID      string     `json:"contact_id"`
	Status         CallStatus `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	Reason         string     `json:"reason,omitempty"`
	CallID         string     `json:"call_id,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
