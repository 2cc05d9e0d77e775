package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	loadErr  error
	saveErr  error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]Session)}
}

func (s *memorySessionStore) Load(_ context.Context, tenantID, sessionKey string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	session, ok := s.sessions[tenantID+"/"+sessionKey]
	if !ok {
		return nil, nil
	}
	copied := session
	return &copied, nil
}

func (s *memorySessionStore) Save(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions[session.TenantID+"/"+session.SessionKey] = *session
	return nil
}

func TestManagerAcquireInitializesSession(t *testing.T) {
	m := NewManager(newMemorySessionStore(), time.Second, nil)

	lease, err := m.Acquire(context.Background(), "t1", "whatsapp:+55")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()

	if lease.Session.TenantID != "t1" || lease.Session.SessionKey != "whatsapp:+55" {
		t.Errorf("unexpected session identity: %+v", lease.Session)
	}
	if lease.Session.CurrentFlow != FlowNone || lease.Session.AwaitingIntent {
		t.Errorf("new session should be idle: %+v", lease.Session)
	}
}

func TestManagerLockExcludesConcurrentWriters(t *testing.T) {
	store := newMemorySessionStore()
	m := NewManager(store, 2*time.Second, nil)

	const writers = 16
	var order []int
	var orderMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			lease, err := m.Acquire(context.Background(), "t1", "s1")
			if err != nil {
				t.Errorf("acquire %d: %v", n, err)
				return
			}
			lease.Session.TurnCount++
			orderMu.Lock()
			order = append(order, n)
			orderMu.Unlock()
			if err := lease.Commit(context.Background()); err != nil {
				t.Errorf("commit %d: %v", n, err)
			}
			lease.Release()
		}(i)
	}
	wg.Wait()

	if len(order) != writers {
		t.Fatalf("expected %d committed writers, got %d", writers, len(order))
	}
	final, _ := store.Load(context.Background(), "t1", "s1")
	if final.TurnCount != writers {
		t.Errorf("lost update: turn count %d, want %d", final.TurnCount, writers)
	}
}

func TestManagerLockGrantOrderIsFIFO(t *testing.T) {
	m := NewManager(newMemorySessionStore(), 5*time.Second, nil)

	holder, err := m.Acquire(context.Background(), "t1", "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 5
	grants := make(chan int, waiters)
	ready := make(chan struct{})

	for i := 0; i < waiters; i++ {
		go func(n int) {
			// Stagger enqueueing so the queue order is deterministic.
			<-ready
			time.Sleep(time.Duration(n) * 30 * time.Millisecond)
			lease, err := m.Acquire(context.Background(), "t1", "s1")
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			grants <- n
			lease.Release()
		}(i)
	}
	close(ready)
	time.Sleep(time.Duration(waiters)*30*time.Millisecond + 50*time.Millisecond)
	holder.Release()

	for want := 0; want < waiters; want++ {
		select {
		case got := <-grants:
			if got != want {
				t.Fatalf("grant order broken: got waiter %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never granted", want)
		}
	}
}

func TestManagerLockTimeout(t *testing.T) {
	m := NewManager(newMemorySessionStore(), 50*time.Millisecond, nil)

	holder, err := m.Acquire(context.Background(), "t1", "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release()

	_, err = m.Acquire(context.Background(), "t1", "s1")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	// A different session is unaffected.
	other, err := m.Acquire(context.Background(), "t1", "s2")
	if err != nil {
		t.Fatalf("independent session should not block: %v", err)
	}
	other.Release()
}

func TestManagerTimedOutWaiterDoesNotStealGrant(t *testing.T) {
	m := NewManager(newMemorySessionStore(), 40*time.Millisecond, nil)

	holder, _ := m.Acquire(context.Background(), "t1", "s1")

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), "t1", "s1")
		done <- err
	}()

	if err := <-done; !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	holder.Release()

	// Lock must be free again despite the abandoned waiter.
	lease, err := m.Acquire(context.Background(), "t1", "s1")
	if err != nil {
		t.Fatalf("lock leaked after abandoned waiter: %v", err)
	}
	lease.Release()
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	m := NewManager(newMemorySessionStore(), time.Second, nil)

	lease, _ := m.Acquire(context.Background(), "t1", "s1")
	lease.Release()
	lease.Release()

	if err := lease.Commit(context.Background()); err == nil {
		t.Error("commit after release should fail")
	}

	again, err := m.Acquire(context.Background(), "t1", "s1")
	if err != nil {
		t.Fatalf("reacquire after double release: %v", err)
	}
	again.Release()
}

func TestSessionFlowTransitions(t *testing.T) {
	s := &Session{TenantID: "t1", SessionKey: "s1"}

	if err := s.BeginFlow(FlowBooking); err != nil {
		t.Fatalf("begin flow: %v", err)
	}
	if err := s.BeginFlow(FlowCancel); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("conflicting flow start should fail, got %v", err)
	}

	if err := s.AdvanceStep(2); err != nil || s.FlowStep != 1 || s.FlowCompleted {
		t.Fatalf("advance: err=%v step=%d completed=%v", err, s.FlowStep, s.FlowCompleted)
	}
	if err := s.AdvanceStep(2); err != nil || !s.FlowCompleted {
		t.Fatalf("final advance should complete the flow: err=%v %+v", err, s)
	}

	s.ResetFlow()
	if s.CurrentFlow != FlowNone || s.FlowStep != 0 || s.FlowCompleted {
		t.Errorf("reset should return to idle: %+v", s)
	}

	if err := s.AdvanceStep(2); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance without a flow should fail, got %v", err)
	}
	if err := s.CompleteFlow(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete without a flow should fail, got %v", err)
	}
}

func TestSessionAwaitingIntentSubState(t *testing.T) {
	s := &Session{}
	now := time.Now()

	// A flow can itself enter the awaiting-intent sub-state.
	if err := s.BeginFlow(FlowBooking); err != nil {
		t.Fatal(err)
	}
	s.MarkAwaitingIntent(now)
	if !s.AwaitingIntent || s.CurrentFlow != FlowBooking {
		t.Errorf("awaiting intent should not clear the flow: %+v", s)
	}
	if !s.AwaitingIntentSince.Equal(now) {
		t.Errorf("awaiting since not recorded: %+v", s)
	}

	// Marking again keeps the original timestamp.
	s.ClarifyAttempts = 2
	s.MarkAwaitingIntent(now.Add(time.Minute))
	if !s.AwaitingIntentSince.Equal(now) || s.ClarifyAttempts != 2 {
		t.Errorf("re-mark should be a no-op: %+v", s)
	}

	s.ClearAwaitingIntent()
	if s.AwaitingIntent || s.ClarifyAttempts != 0 || !s.AwaitingIntentSince.IsZero() {
		t.Errorf("clear should reset the sub-state: %+v", s)
	}
}
