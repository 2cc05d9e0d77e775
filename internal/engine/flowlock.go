package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conversahq/conversa-platform/pkg/logging"
)

// ErrLockTimeout means the session lock could not be acquired in time. It is
// retryable: the channel layer should redeliver the message.
var ErrLockTimeout = errors.New("engine: session lock acquisition timed out")

// ErrInvalidTransition means a flow state change conflicts with the session's
// current state.
var ErrInvalidTransition = errors.New("engine: invalid flow transition")

// SessionStore persists ConversationSession state. Load returns (nil, nil)
// for sessions that do not exist yet.
type SessionStore interface {
	Load(ctx context.Context, tenantID, sessionKey string) (*Session, error)
	Save(ctx context.Context, session *Session) error
}

// waiter is one queued lock acquisition. grant is buffered so a release
// never blocks on a waiter that already gave up.
type waiter struct {
	grant chan struct{}
	gone  bool
}

type lockEntry struct {
	held  bool
	queue []*waiter
}

// keyedLock is an arena-style per-key mutex with FIFO handoff. Fairness
// matters here: turn ordering within a session follows lock grant order.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

func (l *keyedLock) acquire(ctx context.Context, key string, timeout time.Duration) error {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	if !entry.held && len(entry.queue) == 0 {
		entry.held = true
		l.mu.Unlock()
		return nil
	}

	w := &waiter{grant: make(chan struct{}, 1)}
	entry.queue = append(entry.queue, w)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.grant:
		return nil
	case <-timer.C:
		return l.abandon(key, w, ErrLockTimeout)
	case <-ctx.Done():
		return l.abandon(key, w, ctx.Err())
	}
}

// abandon removes a timed-out waiter. The grant may have raced the timeout;
// in that case the lock is ours after all and we keep it.
func (l *keyedLock) abandon(key string, w *waiter, cause error) error {
	l.mu.Lock()
	select {
	case <-w.grant:
		l.mu.Unlock()
		return nil
	default:
	}
	w.gone = true
	l.mu.Unlock()
	return cause
}

func (l *keyedLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return
	}

	// Hand off to the oldest waiter still present, FIFO.
	for len(entry.queue) > 0 {
		next := entry.queue[0]
		entry.queue = entry.queue[1:]
		if next.gone {
			continue
		}
		next.grant <- struct{}{}
		return
	}

	entry.held = false
	if len(entry.queue) == 0 {
		delete(l.entries, key)
	}
}

// Manager owns per-session state. It is the single writer of Session; every
// read or mutation goes through a lease acquired here.
type Manager struct {
	locks   *keyedLock
	store   SessionStore
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

func NewManager(store SessionStore, timeout time.Duration, logger *logging.Logger) *Manager {
	if store == nil {
		panic("engine: session store cannot be nil")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		locks:   newKeyedLock(),
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Lease is exclusive access to one session. Release is idempotent and safe
// under defer, so a failure mid-pipeline never leaves the session locked.
type Lease struct {
	Session  *Session
	manager  *Manager
	lockKey  string
	released bool
	mu       sync.Mutex
}

// Acquire takes the session lock and loads (or initializes) session state.
func (m *Manager) Acquire(ctx context.Context, tenantID, sessionKey string) (*Lease, error) {
	lockKey := tenantID + "/" + sessionKey
	if err := m.locks.acquire(ctx, lockKey, m.timeout); err != nil {
		return nil, err
	}

	session, err := m.store.Load(ctx, tenantID, sessionKey)
	if err != nil {
		m.locks.release(lockKey)
		return nil, fmt.Errorf("engine: load session: %w", err)
	}
	if session == nil {
		session = &Session{
			TenantID:   tenantID,
			SessionKey: sessionKey,
		}
	}

	return &Lease{
		Session: session,
		manager: m,
		lockKey: lockKey,
	}, nil
}

// Commit persists the session state. The lease stays held so the caller can
// keep ordering guarantees until Release.
func (l *Lease) Commit(ctx context.Context) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return fmt.Errorf("engine: commit on released lease")
	}

	l.Session.LastActivityAt = l.manager.now()
	if err := l.manager.store.Save(ctx, l.Session); err != nil {
		return fmt.Errorf("engine: save session: %w", err)
	}
	return nil
}

// Release gives the lock back. Safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.manager.locks.release(l.lockKey)
}

// --- session state machine ---

// BeginFlow moves idle → in_flow. Starting a flow while another flow is
// active is a conflicting transition.
func (s *Session) BeginFlow(flow FlowType) error {
	if flow == FlowNone {
		return fmt.Errorf("%w: cannot begin empty flow", ErrInvalidTransition)
	}
	if s.CurrentFlow != FlowNone && s.CurrentFlow != flow {
		return fmt.Errorf("%w: flow %s already active", ErrInvalidTransition, s.CurrentFlow)
	}
	s.CurrentFlow = flow
	s.FlowStep = 0
	s.FlowCompleted = false
	return nil
}

// AdvanceStep moves in_flow → in_flow on step advance, completing the flow
// when the last step is passed.
func (s *Session) AdvanceStep(totalSteps int) error {
	if s.CurrentFlow == FlowNone {
		return fmt.Errorf("%w: no active flow to advance", ErrInvalidTransition)
	}
	s.FlowStep++
	if totalSteps > 0 && s.FlowStep >= totalSteps {
		s.FlowCompleted = true
	}
	return nil
}

// CompleteFlow marks the active flow finished. The caller resets the
// session to idle once the completion has been acted on; outcome
// derivation still needs to see which flow just finished.
func (s *Session) CompleteFlow() error {
	if s.CurrentFlow == FlowNone {
		return fmt.Errorf("%w: no active flow to complete", ErrInvalidTransition)
	}
	s.FlowCompleted = true
	return nil
}

// ResetFlow moves in_flow → idle on completion or cancellation.
func (s *Session) ResetFlow() {
	s.CurrentFlow = FlowNone
	s.FlowStep = 0
	s.FlowCompleted = false
}

// MarkAwaitingIntent enters the awaiting-intent sub-state. A flow may stay
// active underneath it.
func (s *Session) MarkAwaitingIntent(at time.Time) {
	if !s.AwaitingIntent {
		s.AwaitingIntentSince = at
		s.ClarifyAttempts = 0
	}
	s.AwaitingIntent = true
}

// ClearAwaitingIntent leaves the awaiting-intent sub-state after resolution.
func (s *Session) ClearAwaitingIntent() {
	s.AwaitingIntent = false
	s.AwaitingIntentSince = time.Time{}
	s.ClarifyAttempts = 0
}
