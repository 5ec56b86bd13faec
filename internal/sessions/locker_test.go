package sessions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockerSecondLockBlocksUntilUnlock(t *testing.T) {
	l := NewLocker(200 * time.Millisecond)
	ctx := context.Background()

	if err := l.Lock(ctx, "s1"); err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	unlocked := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Unlock("s1")
		close(unlocked)
	}()

	if err := l.Lock(ctx, "s1"); err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	<-unlocked
}

func TestLockerTimesOut(t *testing.T) {
	l := NewLocker(20 * time.Millisecond)
	ctx := context.Background()

	if err := l.Lock(ctx, "s1"); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer l.Unlock("s1")

	if err := l.Lock(ctx, "s1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestLockerRespectsContextCancellation(t *testing.T) {
	l := NewLocker(time.Second)
	if err := l.Lock(context.Background(), "s1"); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer l.Unlock("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Lock(ctx, "s1"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestLockerIsLocked(t *testing.T) {
	l := NewLocker(time.Second)
	if l.IsLocked("s1") {
		t.Fatal("fresh locker should report unlocked")
	}
	if err := l.Lock(context.Background(), "s1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !l.IsLocked("s1") {
		t.Fatal("expected locked after Lock")
	}
	l.Unlock("s1")
	if l.IsLocked("s1") {
		t.Fatal("expected unlocked after Unlock")
	}
}
