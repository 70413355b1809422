// Package state owns the mailing lifecycle: the legal transition table,
// the reaction to executor events, the auto-pause rate limiter and the
// startup recovery that re-pauses mailings a dead process left RUNNING.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/bulkpost/internal/executor"
	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
	"github.com/ignite/bulkpost/internal/store"
)

// allowedTransitions lists the manually-requestable state changes.
// FINISHED has no outgoing edges: completed mailings are restarted only
// through the executor's own reset path, or cloned.
var allowedTransitions = map[mailing.State][]mailing.State{
	mailing.StateNew:      {mailing.StateRunning},
	mailing.StateError:    {mailing.StateRunning},
	mailing.StatePaused:   {mailing.StateRunning},
	mailing.StateRunning:  {mailing.StatePaused},
	mailing.StateFinished: {},
}

// Options tunes the auto-pause limiter.
type Options struct {
	// MaxEmailsWithoutPause triggers an automatic pause once this many
	// emails went out since the last pause/resume boundary.
	MaxEmailsWithoutPause int
	// PauseDuration is how long an automatic pause lasts.
	PauseDuration time.Duration
	// Sleep is replaceable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// autoPauseEntry is the per-mailing limiter bookkeeping. The token is
// bumped by every manual state change; a pending auto-resume compares
// it against the value captured at pause time and stands down when an
// operator intervened in between.
type autoPauseEntry struct {
	sentWithoutPause int
	token            uint64
}

// Executor is the part of the execution engine the manager drives.
type Executor interface {
	Events() <-chan executor.Event
	StartExecution(ctx context.Context, m *mailing.Mailing) error
	PauseExecution(ctx context.Context, m *mailing.Mailing) error
}

// Manager validates and applies lifecycle transitions, persisting every
// change through the optimistic update path.
type Manager struct {
	executor Executor
	mailings *store.MailingRepository
	log      *logger.Logger
	opts     Options

	ctx context.Context

	mu        sync.Mutex
	autoPause map[int64]*autoPauseEntry
}

// NewManager creates a Manager. Call Start to begin consuming executor
// events.
func NewManager(exec Executor, mailings *store.MailingRepository, log *logger.Logger, opts Options) *Manager {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Manager{
		executor:  exec,
		mailings:  mailings,
		log:       log,
		opts:      opts,
		ctx:       context.Background(),
		autoPause: make(map[int64]*autoPauseEntry),
	}
}

// Start launches the event consumer. It returns once the executor's
// event stream is closed.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	go func() {
		for ev := range m.executor.Events() {
			m.handleEvent(ev)
		}
	}()
}

// Initialize recovers from an unclean shutdown: any mailing persisted
// as RUNNING cannot actually be running (execution state is in-memory
// only), so it is forced back to PAUSED.
func (m *Manager) Initialize(ctx context.Context) error {
	all, err := m.mailings.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, ml := range all {
		if ml.State != mailing.StateRunning {
			continue
		}
		m.log.Warnf("#%d: was RUNNING at startup, restoring to PAUSED", ml.ID)
		if _, err := m.mailings.UpdateInTransaction(ctx, ml.ID, func(mm *mailing.Mailing) {
			mm.State = mailing.StatePaused
		}); err != nil {
			return err
		}
	}
	return nil
}

// ChangeState applies a manually-requested transition. Requesting the
// current state is a no-op success; a transition missing from the table
// is rejected without side effects. Legal transitions delegate to the
// executor (which reports the resulting state back through an event)
// and reset the auto-pause bookkeeping so a fresh operator action
// clears any pending auto-resume.
func (m *Manager) ChangeState(ctx context.Context, ml *mailing.Mailing, to mailing.State) (bool, error) {
	from := ml.State
	if from == to {
		return true, nil
	}

	allowed, known := allowedTransitions[from]
	if !known {
		return false, nil
	}
	legal := false
	for _, s := range allowed {
		if s == to {
			legal = true
			break
		}
	}
	if !legal {
		return false, nil
	}

	m.resetAutoPause(ml.ID)

	switch to {
	case mailing.StateRunning:
		if err := m.executor.StartExecution(ctx, ml); err != nil {
			return false, err
		}
		m.log.Infof("#%d: started", ml.ID)
	case mailing.StatePaused:
		if err := m.executor.PauseExecution(ctx, ml); err != nil {
			return false, err
		}
		m.log.Infof("#%d: paused", ml.ID)
	}
	return true, nil
}

func (m *Manager) handleEvent(ev executor.Event) {
	switch ev.Type {
	case executor.EventStarted:
		m.setState(ev.MailingID, mailing.StateRunning)
	case executor.EventPaused:
		m.setState(ev.MailingID, mailing.StatePaused)
	case executor.EventFinished:
		m.setState(ev.MailingID, mailing.StateFinished)
		m.log.Infof("#%d: finished", ev.MailingID)
	case executor.EventError:
		m.log.Errorf("#%d: mailing failed: %v", ev.MailingID, ev.Err)
		m.setState(ev.MailingID, mailing.StateError)
	case executor.EventEmailSent:
		m.onEmailSent(ev.MailingID)
	}
}

func (m *Manager) setState(id int64, to mailing.State) {
	var from mailing.State
	ml, err := m.mailings.UpdateInTransaction(m.ctx, id, func(mm *mailing.Mailing) {
		from = mm.State
		mm.State = to
	})
	if err != nil {
		m.log.Errorf("#%d: failed to persist state %s: %v", id, to, err)
		return
	}
	if ml == nil {
		m.log.Warnf("#%d: attempt to change state of a mailing that does not exist", id)
		return
	}
	m.log.Debugf("#%d: saved state to repository", id)
	m.log.Verbosef("#%d: changed state %s -> %s", id, from, to)
}

func (m *Manager) entry(id int64) *autoPauseEntry {
	e, ok := m.autoPause[id]
	if !ok {
		e = &autoPauseEntry{}
		m.autoPause[id] = e
	}
	return e
}

func (m *Manager) resetAutoPause(id int64) {
	m.mu.Lock()
	e := m.entry(id)
	e.sentWithoutPause = 0
	e.token++
	m.mu.Unlock()
}

func (m *Manager) onEmailSent(id int64) {
	if m.opts.MaxEmailsWithoutPause <= 0 {
		return
	}
	m.mu.Lock()
	e := m.entry(id)
	e.sentWithoutPause++
	if e.sentWithoutPause < m.opts.MaxEmailsWithoutPause {
		m.mu.Unlock()
		return
	}
	e.sentWithoutPause = 0
	token := e.token
	m.mu.Unlock()

	go m.autoPauseAndResume(id, token)
}

// autoPauseAndResume throttles a hot mailing: pause, wait, then resume
// only if nothing else touched the mailing in the meantime. An operator
// action during the wait (detected by state or token change) always
// wins; auto-resume must never override it.
func (m *Manager) autoPauseAndResume(id int64, token uint64) {
	ml, err := m.mailings.GetByID(m.ctx, id)
	if err != nil || ml == nil {
		m.log.Warnf("#%d: auto-pause skipped, mailing unavailable: %v", id, err)
		return
	}
	m.log.Infof("#%d: auto-pausing after %d emails", id, m.opts.MaxEmailsWithoutPause)
	if err := m.executor.PauseExecution(m.ctx, ml); err != nil {
		m.log.Errorf("#%d: auto-pause failed: %v", id, err)
		return
	}

	m.opts.Sleep(m.opts.PauseDuration)

	ml, err = m.mailings.GetByID(m.ctx, id)
	if err != nil || ml == nil {
		m.log.Warnf("#%d: auto-resume skipped, mailing unavailable: %v", id, err)
		return
	}

	m.mu.Lock()
	current := m.entry(id).token
	m.mu.Unlock()

	if ml.State != mailing.StatePaused || current != token {
		m.log.Infof("#%d: skipping auto-resume (state %s, manual action detected: %t)",
			id, ml.State, current != token)
		return
	}

	m.log.Infof("#%d: auto-resuming", id)
	if err := m.executor.StartExecution(m.ctx, ml); err != nil {
		m.log.Errorf("#%d: auto-resume failed: %v", id, err)
	}
}
