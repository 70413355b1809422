package mailing

import (
	"strings"
	"time"
)

// AddressStats is the cross-mailing delivery history of one email
// address. Created lazily on the first successful send; bounce
// processing updates LastStatus and related fields through the
// repository surface.
type AddressStats struct {
	Email                 string     `json:"email"`
	LastSendDate          *time.Time `json:"lastSendDate,omitempty"`
	SentCount             int64      `json:"sentCount"`
	LastStatus            string     `json:"lastStatus,omitempty"`
	LastStatusDate        *time.Time `json:"lastStatusDate,omitempty"`
	DiagnosticCode        string     `json:"diagnosticCode,omitempty"`
	Spam                  bool       `json:"spam,omitempty"`
	TemporaryFailureCount int64      `json:"temporaryFailureCount,omitempty"`
}

// HardBounced reports whether the address has a recorded permanent
// delivery failure (SMTP status class 5.x.x).
func (s *AddressStats) HardBounced() bool {
	return strings.HasPrefix(s.LastStatus, "5")
}
