package lockq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheegaon/quipflip-sub002/internal/types"
)

func TestAcquireRelease(t *testing.T) {
	s := NewService()
	ctx := context.Background()

	l1, err := s.Acquire(ctx, ClassPlayer, "p1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Second acquire on the same name times out.
	_, err = s.Acquire(ctx, ClassPlayer, "p1", 20*time.Millisecond)
	var lt *types.LockTimeoutError
	if !errors.As(err, &lt) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if !types.IsRetryable(err) {
		t.Error("lock timeout should be retryable")
	}

	// Different names do not contend.
	l2, err := s.Acquire(ctx, ClassPlayer, "p2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire p2: %v", err)
	}
	l2.Release()

	l1.Release()
	l1.Release() // idempotent

	l3, err := s.Acquire(ctx, ClassPlayer, "p1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l3.Release()
}

func TestAcquireContextCancel(t *testing.T) {
	s := NewService()
	l, err := s.Acquire(context.Background(), ClassParty, "s1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, ClassParty, "s1", time.Minute)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}
}

func TestValidateOrder(t *testing.T) {
	if err := ValidateOrder(ClassPlayer, ClassParty); err != nil {
		t.Errorf("player -> party should be legal: %v", err)
	}
	if err := ValidateOrder(ClassParty, ClassPlayer); err == nil {
		t.Error("party -> player should be rejected")
	}
	if err := ValidateOrder(ClassPhase, ClassPhase); err == nil {
		t.Error("same class should be rejected")
	}
}

func TestAcquireEnforcesClassOrder(t *testing.T) {
	s := NewService()
	ctx := Track(context.Background())

	party, err := s.Acquire(ctx, ClassParty, "s1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire party: %v", err)
	}

	// Lower and equal classes are refused while the party lock is held.
	if _, err := s.Acquire(ctx, ClassPlayer, "p1", 20*time.Millisecond); err == nil {
		t.Fatal("player acquire under party lock should be refused")
	}
	if _, err := s.Acquire(ctx, ClassParty, "s2", 20*time.Millisecond); err == nil {
		t.Fatal("second party acquire on one chain should be refused")
	}

	party.Release()
	l, err := s.Acquire(ctx, ClassPlayer, "p1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	defer l.Release()

	// Ascending classes nest.
	lc, err := s.Acquire(ctx, ClassContent, "c1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("content under player: %v", err)
	}
	lc.Release()

	// A detached chain does not see this chain's holds.
	ld, err := s.Acquire(Detach(ctx), ClassPlayer, "p2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("detached acquire: %v", err)
	}
	ld.Release()

	// Untracked contexts skip the check entirely.
	lu, err := s.Acquire(context.Background(), ClassParty, "s3", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("untracked acquire: %v", err)
	}
	lu.Release()
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")
	q.Push("b") // duplicate ignored

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	if id, ok := q.Pop(); !ok || id != "a" {
		t.Fatalf("Pop = %q/%v, want a", id, ok)
	}
	if !q.Contains("b") || q.Contains("a") {
		t.Error("membership tracking wrong after pop")
	}
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		q.Push(id)
	}

	held := q.PopN(3) // a b c
	q.Push("e")       // queue: d e

	// a was consumed, b and c go back ahead of d.
	q.Requeue(held[1:])

	var got []string
	for {
		id, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, id)
	}
	want := []string{"b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")
	q.Remove("b")
	q.Remove("zzz") // no-op

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	first, _ := q.Pop()
	second, _ := q.Pop()
	if first != "a" || second != "c" {
		t.Fatalf("drained %s,%s want a,c", first, second)
	}
}
