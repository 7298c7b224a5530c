// Package lockq provides the in-process named lock service and FIFO work
// queues the coordinator layers on top of the store. Locks serialize logical
// operations (one round start per player, one phase advance per session);
// the store's single-writer transactions handle row-level atomicity.
package lockq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/logging"
	"github.com/sheegaon/quipflip-sub002/internal/types"
)

// Class orders lock acquisition. A holder may only acquire locks of a
// strictly higher class, which rules out cycles.
type Class int

const (
	ClassPlayer Class = iota + 1
	ClassContent
	ClassPhase
	ClassParty
)

func (c Class) String() string {
	switch c {
	case ClassPlayer:
		return "player"
	case ClassContent:
		return "content"
	case ClassPhase:
		return "phase"
	case ClassParty:
		return "party"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ValidateOrder reports whether acquiring next while holding held respects
// the class ordering.
func ValidateOrder(held, next Class) error {
	if next <= held {
		return fmt.Errorf("lock order violation: cannot take %s lock while holding %s", next, held)
	}
	return nil
}

type trackerKey struct{}

// tracker records the classes one call chain currently holds. Acquire
// validates every new class against it.
type tracker struct {
	mu   sync.Mutex
	held map[Class]int
}

func (t *tracker) check(next Class) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for held, n := range t.held {
		if n <= 0 {
			continue
		}
		if err := ValidateOrder(held, next); err != nil {
			return err
		}
	}
	return nil
}

func (t *tracker) add(c Class) {
	t.mu.Lock()
	t.held[c]++
	t.mu.Unlock()
}

func (t *tracker) drop(c Class) {
	t.mu.Lock()
	t.held[c]--
	t.mu.Unlock()
}

// Track attaches a held-class tracker to the context so every Acquire on
// the chain enforces the class order. An already tracked context is
// returned unchanged, which keeps one tracker per logical call chain even
// as it crosses components.
func Track(ctx context.Context) context.Context {
	if ctx.Value(trackerKey{}) != nil {
		return ctx
	}
	return context.WithValue(ctx, trackerKey{}, &tracker{held: make(map[Class]int)})
}

// Detach starts a fresh chain on the context. Goroutines fanned out from a
// tracked chain must detach; their concurrent holds are not nesting.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, trackerKey{}, &tracker{held: make(map[Class]int)})
}

func trackerFrom(ctx context.Context) *tracker {
	t, _ := ctx.Value(trackerKey{}).(*tracker)
	return t
}

// Lease is a held lock. Release is idempotent.
type Lease struct {
	name    string
	class   Class
	release func()
	once    sync.Once
}

// Release returns the lock. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Name returns the lock's fully qualified name.
func (l *Lease) Name() string { return l.name }

// Class returns the lock's ordering class.
func (l *Lease) Class() Class { return l.class }

// Service hands out named mutexes. Each name maps to a one-slot channel
// semaphore; entries are created on first use and never removed, which is
// fine at the scale of players and sessions a single node serves.
type Service struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewService creates an empty lock service.
func NewService() *Service {
	return &Service{locks: make(map[string]chan struct{})}
}

func (s *Service) slot(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	return ch
}

// Acquire takes the named lock, waiting up to timeout. On timeout it returns
// a *types.LockTimeoutError, which the AI orchestrator treats as retryable.
func (s *Service) Acquire(ctx context.Context, class Class, name string, timeout time.Duration) (*Lease, error) {
	qualified := class.String() + ":" + name
	tr := trackerFrom(ctx)
	if tr != nil {
		if err := tr.check(class); err != nil {
			logging.Locks("refused %s: %v", qualified, err)
			return nil, err
		}
	}
	ch := s.slot(qualified)

	select {
	case ch <- struct{}{}:
	default:
		// Contended path: wait with a deadline.
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
		case <-timer.C:
			logging.Locks("timeout acquiring %s after %v", qualified, timeout)
			return nil, &types.LockTimeoutError{Name: qualified, Timeout: timeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	logging.LocksDebug("acquired %s", qualified)
	if tr != nil {
		tr.add(class)
	}
	return &Lease{
		name:  qualified,
		class: class,
		release: func() {
			if tr != nil {
				tr.drop(class)
			}
			<-ch
			logging.LocksDebug("released %s", qualified)
		},
	}, nil
}

// PlayerLockName builds the per-player per-game lock name.
func PlayerLockName(playerID string, game types.GameType) string {
	return string(game) + ":" + playerID
}
