package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/dexsim/trading-sim/internal/clock"
)

func TestFakeAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	ch := fake.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("Waiter fired before time advanced")
	default:
	}

	fake.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("Waiter fired before its deadline")
	default:
	}

	fake.Advance(30 * time.Second)
	select {
	case now := <-ch:
		if !now.Equal(start.Add(time.Minute)) {
			t.Errorf("Expected %s, got %s", start.Add(time.Minute), now)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter did not fire at its deadline")
	}

	if !fake.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("Now should be %s, got %s", start.Add(time.Minute), fake.Now())
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	select {
	case <-fake.After(0):
	case <-time.After(time.Second):
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeSleepCancellation(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- fake.Sleep(ctx, time.Hour)
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancellation")
	}
}

func TestFakeSleepCompletes(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	done := make(chan error, 1)
	go func() {
		done <- fake.Sleep(context.Background(), time.Second)
	}()

	// Give the sleeper time to register its waiter.
	for i := 0; i < 300; i++ {
		fake.Advance(10 * time.Millisecond)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Sleep returned error: %v", err)
			}
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("Sleep did not complete")
}

func TestRealClockSleep(t *testing.T) {
	clk := clock.New()

	if err := clk.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := clk.Sleep(ctx, time.Hour); err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
