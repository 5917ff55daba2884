package domain

import "time"

type CallStatus string

const (
	StatusPending   CallStatus = "pending"
	StatusScheduled CallStatus = "scheduled"
	StatusDialing   CallStatus = "dialing"
	StatusConfirmed CallStatus = "confirmed"
	StatusCancelled CallStatus = "cancelled"
	StatusEscalated CallStatus = "escalated"
)

// DefaultMaxAttempts is the dial budget of a contact.
const DefaultMaxAttempts = 3

// FollowUpTag marks a contact for a human to pick up.
const FollowUpTag = "Needs Manual Follow-Up"

// Terminal reports whether no further transition is allowed out of s.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusEscalated:
		return true
	}
	return false
}

func (s CallStatus) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusDialing, StatusConfirmed, StatusCancelled, StatusEscalated:
		return true
	}
	return false
}

// CallTask is the per-contact scheduling state.
type CallTask struct {
	ContactID         string     `json:"contact_id"`
	PhoneNumber       string     `json:"phone_number"`
	Timezone          string     `json:"timezone"`
	AttemptNumber     int        `json:"attempt_number"`
	MaxAttempts       int        `json:"max_attempts"`
	Status            CallStatus `json:"status"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	NextEligibleAt    *time.Time `json:"next_eligible_at,omitempty"`
	CallID            string     `json:"call_id,omitempty"`
	LastCallAt        *time.Time `json:"last_call_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Version is bumped by every successful store write. Zero means the
	// task has never been persisted.
	Version int64 `json:"version"`
}

// NewCallTask materializes a pending task for a first trigger.
func NewCallTask(contactID, phone, tz string, maxAttempts int, now time.Time) *CallTask {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &CallTask{
		ContactID:   contactID,
		PhoneNumber: phone,
		Timezone:    tz,
		MaxAttempts: maxAttempts,
		Status:      StatusPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// Clone returns a deep copy so a failed write never leaks partial mutations.
func (t *CallTask) Clone() *CallTask {
	c := *t
	if t.NextEligibleAt != nil {
		v := *t.NextEligibleAt
		c.NextEligibleAt = &v
	}
	if t.LastCallAt != nil {
		v := *t.LastCallAt
		c.LastCallAt = &v
	}
	return &c
}

// Schedule moves the task to scheduled at the given instant.
func (t *CallTask) Schedule(at, now time.Time) {
	at = at.UTC()
	t.Status = StatusScheduled
	t.NextEligibleAt = &at
	t.UpdatedAt = now.UTC()
}

// BeginDial reserves an attempt. The caller must have checked the budget.
func (t *CallTask) BeginDial(now time.Time) {
	n := now.UTC()
	t.Status = StatusDialing
	t.AttemptNumber++
	t.NextEligibleAt = nil
	t.CallID = ""
	t.LastCallAt = &n
	t.UpdatedAt = n
}

// Close moves the task into a terminal status.
func (t *CallTask) Close(status CallStatus, now time.Time) {
	t.Status = status
	t.NextEligibleAt = nil
	t.UpdatedAt = now.UTC()
}
