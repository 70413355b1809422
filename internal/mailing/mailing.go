// Package mailing holds the domain model of the server: mailings,
// receivers, per-address delivery stats and the pure logic that operates
// on them (schedule evaluation, receiver filtering, failure reports).
package mailing

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a mailing.
type State int

const (
	StateNew State = iota + 1
	StateRunning
	StatePaused
	StateFinished
	StateError
)

var stateNames = map[State]string{
	StateNew:      "NEW",
	StateRunning:  "RUNNING",
	StatePaused:   "PAUSED",
	StateFinished: "FINISHED",
	StateError:    "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState resolves a state name as used by the HTTP API. The second
// return value reports whether the name was recognized.
func ParseState(name string) (State, bool) {
	for state, n := range stateNames {
		if n == name {
			return state, true
		}
	}
	return 0, false
}

// Mailing is one campaign: a template plus an ordered receiver list and a
// lifecycle state. SentCount doubles as the resume cursor into the
// receiver list, so receivers below it must never be removed or
// reordered.
type Mailing struct {
	ID                  int64                  `json:"-"`
	Name                string                 `json:"name"`
	Subject             string                 `json:"subject,omitempty"`
	HTML                string                 `json:"html,omitempty"`
	ReplyTo             string                 `json:"replyTo,omitempty"`
	ListID              string                 `json:"listId,omitempty"`
	CreationDate        time.Time              `json:"creationDate"`
	State               State                  `json:"state"`
	SentCount           int64                  `json:"sentCount"`
	UndeliveredCount    int64                  `json:"undeliveredCount"`
	OpenForSubscription bool                   `json:"openForSubscription,omitempty"`
	ExtraData           map[string]interface{} `json:"extraData,omitempty"`
}

// ListIDValue builds the List-Id header value assigned to a mailing on
// creation: prefix, id and the creation date without zero padding.
func ListIDValue(prefix string, id int64, now time.Time) string {
	return fmt.Sprintf("%s%d_%d-%d-%d", prefix, id, now.Year(), int(now.Month()), now.Day())
}
