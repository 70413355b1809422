package mailing

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Receiver is one recipient entry inside a mailing's ordered list. The
// email is its identity within the list; Code correlates unsubscribe
// links, PeriodicDate is an optional send schedule (see schedule.go).
type Receiver struct {
	Email        string                 `json:"email"`
	Name         string                 `json:"name,omitempty"`
	Code         string                 `json:"code,omitempty"`
	PeriodicDate string                 `json:"periodicDate,omitempty"`
	ExtraData    map[string]interface{} `json:"extraData,omitempty"`
}

// String renders the receiver as an RFC 5322 style address.
func (r Receiver) String() string {
	if r.Name != "" {
		return r.Name + " <" + r.Email + ">"
	}
	return r.Email
}

// Sendable reports whether the receiver can be handed to a transport:
// the address must be syntactically valid and must not begin with a
// dash, which guards against option-like garbage from CSV imports.
func (r Receiver) Sendable() bool {
	return !strings.HasPrefix(r.Email, "-") && ValidEmail(r.Email)
}

// ShouldSendAt evaluates the receiver's schedule against the given time.
// Receivers without a schedule are always due. An unparsable schedule
// counts as not due.
func (r Receiver) ShouldSendAt(t time.Time) bool {
	if r.PeriodicDate == "" {
		return true
	}
	sched, err := ParseSchedule(r.PeriodicDate)
	if err != nil {
		return false
	}
	return sched.Matches(t)
}

// ValidEmail reports whether the string is a syntactically valid email
// address.
func ValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
