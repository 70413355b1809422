package executor

import "github.com/ignite/bulkpost/internal/mailing"

// EventType tags a lifecycle event emitted by the executor.
type EventType int

const (
	// EventStarted fires when a send loop is launched for a mailing.
	EventStarted EventType = iota + 1
	// EventPaused fires when a send loop observes the stop flag and
	// exits. It is the acknowledgement PauseExecution waits for.
	EventPaused
	// EventFinished fires when a send loop exhausts the receiver list.
	EventFinished
	// EventError fires when a send loop aborts; Err carries the cause.
	EventError
	// EventEmailSent fires after each successful send; Email carries
	// the message.
	EventEmailSent
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	case EventEmailSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification, keyed by mailing id. The stream
// is scoped to a single Executor instance; the state manager is its one
// consumer.
type Event struct {
	Type      EventType
	MailingID int64
	Email     *mailing.Email
	Err       error
}
