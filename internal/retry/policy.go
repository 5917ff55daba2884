// Package retry classifies dialer end reasons and turns them into retry
// decisions clamped to the business-hours window.
package retry

import (
	"strings"
	"time"
)

type Kind string

const (
	KindSuccess   Kind = "success"
	KindTransient Kind = "transient"
	KindTerminal  Kind = "terminal"
)

type Category string

const (
	CategoryCompleted        Category = "completed"
	CategoryBusy             Category = "busy"
	CategoryNoAnswer         Category = "no-answer"
	CategoryVoicemail        Category = "voicemail"
	CategoryTimeout          Category = "timeout"
	CategoryInvalidNumber    Category = "invalid-number"
	CategoryCarrierRejected  Category = "carrier-rejected"
	CategoryCustomerDeclined Category = "customer-declined"
	CategoryOther            Category = "other"
)

// Ended reasons recorded when no report came from the dialer.
const (
	// DialFailedReason: the dialer could not be reached.
	DialFailedReason = "dial-failed"

	// ReportMissingReason: a placed call never reported its outcome.
	ReportMissingReason = "report-missing"
)

// Outcome is a classified end reason.
type Outcome struct {
	Kind     Kind
	Category Category
}

var outcomes = map[string]Outcome{
	"completed":                      {KindSuccess, CategoryCompleted},
	"success":                        {KindSuccess, CategoryCompleted},
	"customer-ended-call":            {KindSuccess, CategoryCompleted},
	"assistant-ended-call":           {KindSuccess, CategoryCompleted},
	"assistant-said-end-call-phrase": {KindSuccess, CategoryCompleted},
	"exceeded-max-duration":          {KindSuccess, CategoryCompleted},

	"busy":          {KindTransient, CategoryBusy},
	"customer-busy": {KindTransient, CategoryBusy},

	"no-answer":               {KindTransient, CategoryNoAnswer},
	"noanswer":                {KindTransient, CategoryNoAnswer},
	"customer-did-not-answer": {KindTransient, CategoryNoAnswer},
	"did-not-answer":          {KindTransient, CategoryNoAnswer},

	"voicemail":         {KindTransient, CategoryVoicemail},
	"voicemail-reached": {KindTransient, CategoryVoicemail},
	"machine-detected":  {KindTransient, CategoryVoicemail},

	"timeout":           {KindTransient, CategoryTimeout},
	"dialer-timeout":    {KindTransient, CategoryTimeout},
	"silence-timed-out": {KindTransient, CategoryTimeout},
	"dial-failed":       {KindTransient, CategoryTimeout},
	"report-missing":    {KindTransient, CategoryTimeout},
	"failed-to-connect": {KindTransient, CategoryTimeout},

	"invalid-number":          {KindTerminal, CategoryInvalidNumber},
	"invalid-phone-number":    {KindTerminal, CategoryInvalidNumber},
	"customer-number-invalid": {KindTerminal, CategoryInvalidNumber},
	"carrier-rejected":        {KindTerminal, CategoryCarrierRejected},
	"call-rejected":           {KindTerminal, CategoryCarrierRejected},
	"customer-declined":       {KindTerminal, CategoryCustomerDeclined},
	"customer-declined-retry": {KindTerminal, CategoryCustomerDeclined},
	"do-not-call":             {KindTerminal, CategoryCustomerDeclined},
}

// Classify maps a raw dialer end reason. Unknown reasons are transient.
func Classify(reason string) Outcome {
	if o, ok := outcomes[normalize(reason)]; ok {
		return o
	}
	return Outcome{Kind: KindTransient, Category: CategoryOther}
}

func normalize(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	return strings.NewReplacer("_", "-", " ", "-").Replace(r)
}

// Delays holds the wait before the next attempt per category.
type Delays struct {
	Busy      time.Duration
	NoAnswer  time.Duration
	Voicemail time.Duration
	Default   time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		Busy:      25 * time.Minute,
		NoAnswer:  120 * time.Minute,
		Voicemail: 240 * time.Minute,
		Default:   120 * time.Minute,
	}
}

// Snapper clamps an instant into the calling window of a zone.
type Snapper interface {
	Snap(t time.Time, tz string) time.Time
}

type Policy struct {
	delays Delays
	gate   Snapper
}

func NewPolicy(d Delays, gate Snapper) *Policy {
	def := DefaultDelays()
	if d.Busy <= 0 {
		d.Busy = def.Busy
	}
	if d.NoAnswer <= 0 {
		d.NoAnswer = def.NoAnswer
	}
	if d.Voicemail <= 0 {
		d.Voicemail = def.Voicemail
	}
	if d.Default <= 0 {
		d.Default = def.Default
	}
	return &Policy{delays: d, gate: gate}
}

// DelayFor is a pure lookup on the classified category of reason.
func (p *Policy) DelayFor(reason string) time.Duration {
	switch Classify(reason).Category {
	case CategoryBusy:
		return p.delays.Busy
	case CategoryNoAnswer:
		return p.delays.NoAnswer
	case CategoryVoicemail:
		return p.delays.Voicemail
	}
	return p.delays.Default
}

func (p *Policy) ShouldContinue(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// NextEligible is now plus the reason's delay, moved into the calling window.
func (p *Policy) NextEligible(now time.Time, tz, reason string) time.Time {
	return p.gate.Snap(now.Add(p.DelayFor(reason)), tz)
}
