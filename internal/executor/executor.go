// Package executor drives the send loop of running mailings: one
// background loop per mailing id, consuming receivers from the
// repository in batches, sending through the mail transport and
// advancing the persisted sent counter after every delivery.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
	"github.com/ignite/bulkpost/internal/sender"
	"github.com/ignite/bulkpost/internal/store"
	"github.com/ignite/bulkpost/internal/template"
)

// DefaultBatchSize bounds how many receivers are pulled from the list
// per repository round trip.
const DefaultBatchSize = 100

// Options tunes an Executor.
type Options struct {
	// BatchSize overrides DefaultBatchSize when > 0.
	BatchSize int
	// ListUnsubscribe, when set, is stamped on every outgoing email.
	ListUnsubscribe string
}

// executionState tracks one in-flight send loop. It exists only while
// the loop runs and only in this process; a restart empties the map,
// which is why startup recovery re-pauses everything marked RUNNING.
type executionState struct {
	stopping atomic.Bool
	done     chan struct{}
}

// Executor runs at most one send loop per mailing id and reports
// lifecycle changes on its event stream.
type Executor struct {
	sender   sender.MailSender
	mailings *store.MailingRepository
	stats    *store.AddressStatsRepository
	renderer template.Renderer
	opts     Options
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	states map[int64]*executionState
	closed bool

	events chan Event
}

// New creates an Executor. Send loops run on the executor's own
// context, detached from the request that started them.
func New(mailSender sender.MailSender, mailings *store.MailingRepository, stats *store.AddressStatsRepository, renderer template.Renderer, log *logger.Logger, opts Options) *Executor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sender:   mailSender,
		mailings: mailings,
		stats:    stats,
		renderer: renderer,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[int64]*executionState),
		events:   make(chan Event, 128),
	}
}

// Events returns the lifecycle stream. There must be exactly one
// consumer; the channel is closed by Shutdown.
func (e *Executor) Events() <-chan Event {
	return e.events
}

// StartExecution launches the send loop for a mailing and returns
// immediately. Starting an already-running mailing is a no-op. A
// FINISHED mailing has its sent counter reset first, which is the
// restart mode for periodic mailings. When no receiver is currently
// sendable (empty list, exhausted cursor or nothing scheduled for
// today) nothing happens and no event is emitted.
func (e *Executor) StartExecution(ctx context.Context, m *mailing.Mailing) error {
	if m.State == mailing.StateRunning {
		return nil
	}
	e.log.Debugf("#%d: starting execution", m.ID)

	if m.State == mailing.StateFinished {
		reset, err := e.mailings.UpdateInTransaction(ctx, m.ID, func(mm *mailing.Mailing) {
			mm.SentCount = 0
		})
		if err != nil {
			return err
		}
		if reset == nil {
			e.log.Warnf("#%d: start requested for a mailing that no longer exists", m.ID)
			return nil
		}
		m = reset
	}

	startedAt := time.Now()
	first, err := e.findFirstSendable(ctx, m, startedAt)
	if err != nil {
		return err
	}
	if first == nil {
		e.log.Warnf("#%d: no sendable receivers, not starting", m.ID)
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if _, running := e.states[m.ID]; running {
		e.mu.Unlock()
		return nil
	}
	st := &executionState{done: make(chan struct{})}
	e.states[m.ID] = st
	e.mu.Unlock()

	e.emit(Event{Type: EventStarted, MailingID: m.ID})
	// Deliberately not awaited: the loop runs in the background so the
	// HTTP-facing caller returns at once.
	go e.runMailing(m, st, startedAt)
	return nil
}

// PauseExecution requests a cooperative stop and blocks until the send
// loop has actually exited, so the caller knows nothing is in flight
// afterwards. Pausing a mailing that is not running is a silent
// success.
func (e *Executor) PauseExecution(ctx context.Context, m *mailing.Mailing) error {
	e.mu.Lock()
	st, running := e.states[m.ID]
	if m.State != mailing.StateRunning || !running {
		e.mu.Unlock()
		e.log.Warnf("#%d: pause requested while not running", m.ID)
		return nil
	}
	e.log.Verbosef("#%d: stop requested", m.ID)
	st.stopping.Store(true)
	e.mu.Unlock()

	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTestEmail renders and sends one email to the given address,
// bypassing the receiver list and counters entirely. Transport errors
// propagate to the caller.
func (e *Executor) SendTestEmail(ctx context.Context, m *mailing.Mailing, address string) error {
	email, err := e.buildEmail(m, mailing.Receiver{Email: address})
	if err != nil {
		return err
	}
	return e.sender.SendEmail(ctx, email)
}

// Shutdown stops all running loops, waits for them to exit and closes
// the event stream.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	states := make([]*executionState, 0, len(e.states))
	for _, st := range e.states {
		st.stopping.Store(true)
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		select {
		case <-st.done:
		case <-ctx.Done():
			e.cancel()
			return ctx.Err()
		}
	}
	e.cancel()
	close(e.events)
	return nil
}

func (e *Executor) emit(ev Event) {
	e.events <- ev
}

func (e *Executor) clearState(id int64) {
	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
}

// findFirstSendable streams the unsent tail of the receiver list and
// returns the first receiver due at the given time, or nil when the
// rest of the list has nothing to send today.
func (e *Executor) findFirstSendable(ctx context.Context, m *mailing.Mailing, at time.Time) (*mailing.Receiver, error) {
	pos := m.SentCount
	for {
		batch, err := e.mailings.GetReceivers(ctx, m.ID, pos, pos+int64(e.opts.BatchSize)-1)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, nil
		}
		for i := range batch {
			if batch[i].ShouldSendAt(at) {
				return &batch[i], nil
			}
		}
		pos += int64(len(batch))
	}
}

// runMailing is the send loop. It owns a position cursor starting at
// the persisted sent count; only actual deliveries advance the
// persisted counter, so a paused run resumes exactly at the first
// undelivered receiver. Schedule checks use the loop's start time
// throughout, keeping date logic stable across a long run.
func (e *Executor) runMailing(m *mailing.Mailing, st *executionState, startedAt time.Time) {
	defer close(st.done)
	ctx := e.ctx
	id := m.ID
	pos := m.SentCount

	for {
		batch, err := e.mailings.GetReceivers(ctx, id, pos, pos+int64(e.opts.BatchSize)-1)
		if err != nil {
			e.fail(id, err)
			return
		}
		if len(batch) == 0 {
			break
		}

		for _, rcv := range batch {
			if st.stopping.Load() {
				e.log.Debugf("#%d: execution stopped, exiting", id)
				e.clearState(id)
				e.emit(Event{Type: EventPaused, MailingID: id})
				return
			}
			pos++

			if !rcv.Sendable() {
				e.log.Warnf("#%d: dropping receiver with malformed address %q", id, rcv.Email)
				continue
			}
			if !rcv.ShouldSendAt(startedAt) {
				e.log.Verbosef("#%d: %s is not scheduled for today, skipping", id, rcv.Email)
				continue
			}

			email, err := e.buildEmail(m, rcv)
			if err != nil {
				e.fail(id, err)
				return
			}
			e.log.Verbosef("#%d: sending email to %s", id, rcv)
			if err := e.sender.SendEmail(ctx, email); err != nil {
				e.fail(id, err)
				return
			}

			e.log.Debugf("#%d: sent, incrementing sentCount", id)
			if _, err := e.mailings.UpdateInTransaction(ctx, id, func(mm *mailing.Mailing) {
				mm.SentCount++
			}); err != nil {
				e.fail(id, err)
				return
			}
			e.emit(Event{Type: EventEmailSent, MailingID: id, Email: email})

			if err := e.updateAddressStats(ctx, rcv.Email); err != nil {
				e.fail(id, err)
				return
			}
		}
	}

	e.clearState(id)
	e.emit(Event{Type: EventFinished, MailingID: id})
}

func (e *Executor) fail(id int64, err error) {
	e.clearState(id)
	e.emit(Event{Type: EventError, MailingID: id, Err: err})
}

// buildEmail renders the mailing's subject and body for one receiver
// and stamps the bulk-mail headers.
func (e *Executor) buildEmail(m *mailing.Mailing, rcv mailing.Receiver) (*mailing.Email, error) {
	context := map[string]interface{}{
		"email": rcv.Email,
		"name":  rcv.Name,
		"code":  rcv.Code,
	}
	for key, value := range rcv.ExtraData {
		if _, reserved := context[key]; !reserved {
			context[key] = value
		}
	}

	html, err := e.renderer.Render(m.HTML, context)
	if err != nil {
		return nil, err
	}
	subject, err := e.renderer.Render(m.Subject, context)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Precedence": "bulk",
	}
	if m.ListID != "" {
		headers["List-Id"] = m.ListID
	}
	if e.opts.ListUnsubscribe != "" {
		headers["List-Unsubscribe"] = e.opts.ListUnsubscribe
	}

	return &mailing.Email{
		Headers:   headers,
		Subject:   subject,
		HTML:      html,
		ReplyTo:   m.ReplyTo,
		Receivers: []mailing.Receiver{rcv},
	}, nil
}

func (e *Executor) updateAddressStats(ctx context.Context, email string) error {
	now := time.Now()
	created, err := e.stats.CreateIfAbsent(ctx, &mailing.AddressStats{
		Email:        email,
		LastSendDate: &now,
		SentCount:    1,
	})
	if err != nil || created {
		return err
	}
	_, err = e.stats.UpdateInTransaction(ctx, email, func(s *mailing.AddressStats) {
		s.SentCount++
		s.LastSendDate = &now
	})
	return err
}
