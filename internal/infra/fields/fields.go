// Package fields converts CallTask to and from the string-typed custom
// field layout used at the task store boundary.
package fields

import (
	"fmt"
	"strconv"
	"time"

	"leadcall/internal/domain"
)

const (
	CallStatus        = "call_status"
	CallAttempts      = "call_attempts"
	NextCallScheduled = "next_call_scheduled"
	LastCallTime      = "last_call_time"
	EndedReason       = "ended_reason"

	ContactID   = "contact_id"
	PhoneNumber = "phone_number"
	Timezone    = "timezone"
	MaxAttempts = "max_attempts"
	CallID      = "call_id"
	CreatedAt   = "created_at"
	UpdatedAt   = "updated_at"
	Version     = "version"
)

// Marshal flattens t. Nil instants become empty strings.
func Marshal(t *domain.CallTask) map[string]string {
	return map[string]string{
		ContactID:         t.ContactID,
		PhoneNumber:       t.PhoneNumber,
		Timezone:          t.Timezone,
		CallStatus:        string(t.Status),
		CallAttempts:      strconv.Itoa(t.AttemptNumber),
		MaxAttempts:       strconv.Itoa(t.MaxAttempts),
		NextCallScheduled: formatTime(t.NextEligibleAt),
		LastCallTime:      formatTime(t.LastCallAt),
		EndedReason:       t.LastFailureReason,
		CallID:            t.CallID,
		CreatedAt:         formatTime(&t.CreatedAt),
		UpdatedAt:         formatTime(&t.UpdatedAt),
		Version:           strconv.FormatInt(t.Version, 10),
	}
}

// Unmarshal rebuilds a task from m.
func Unmarshal(m map[string]string) (*domain.CallTask, error) {
	t := &domain.CallTask{
		ContactID:         m[ContactID],
		PhoneNumber:       m[PhoneNumber],
		Timezone:          m[Timezone],
		Status:            domain.CallStatus(m[CallStatus]),
		LastFailureReason: m[EndedReason],
		CallID:            m[CallID],
	}
	if t.ContactID == "" {
		return nil, fmt.Errorf("field %s: empty", ContactID)
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("field %s: unknown status %q", CallStatus, m[CallStatus])
	}

	var err error
	if t.AttemptNumber, err = parseInt(m, CallAttempts); err != nil {
		return nil, err
	}
	if t.MaxAttempts, err = parseInt(m, MaxAttempts); err != nil {
		return nil, err
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = domain.DefaultMaxAttempts
	}
	if t.NextEligibleAt, err = parseTime(m, NextCallScheduled); err != nil {
		return nil, err
	}
	if t.LastCallAt, err = parseTime(m, LastCallTime); err != nil {
		return nil, err
	}
	created, err := parseTime(m, CreatedAt)
	if err != nil {
		return nil, err
	}
	if created != nil {
		t.CreatedAt = *created
	}
	updated, err := parseTime(m, UpdatedAt)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		t.UpdatedAt = *updated
	}
	if v := m[Version]; v != "" {
		if t.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("field %s: %w", Version, err)
		}
	}
	return t, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(m map[string]string, key string) (*time.Time, error) {
	v := m[key]
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	t = t.UTC()
	return &t, nil
}

func parseInt(m map[string]string, key string) (int, error) {
	v := m[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return n, nil
}
