package events_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/internal/events"
	"github.com/dexsim/trading-sim/pkg/types"
)

func TestPublishOrderPreserved(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 128)

	var mu sync.Mutex
	var got []string
	bus.SubscribeAll(func(ev events.Event) error {
		mu.Lock()
		got = append(got, ev.EventID())
		mu.Unlock()
		return nil
	})

	var want []string
	for i := 0; i < 50; i++ {
		ev := events.NewLifecycle(events.TypeStarted, time.Now())
		want = append(want, ev.EventID())
		bus.Publish(ev)
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Order broken at %d: %s != %s", i, got[i], want[i])
		}
	}
}

func TestTypedSubscriptionFilters(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 0)

	var mu sync.Mutex
	var prices, trades int
	bus.Subscribe(events.TypePriceUpdate, func(ev events.Event) error {
		mu.Lock()
		prices++
		mu.Unlock()
		return nil
	})
	bus.Subscribe(events.TypeTradeCompleted, func(ev events.Event) error {
		mu.Lock()
		trades++
		mu.Unlock()
		return nil
	})

	bus.Publish(events.NewPriceUpdate(time.Now(), "ETH", decimal.NewFromInt(2000), types.RegimeSideways))
	bus.Publish(events.NewPriceUpdate(time.Now(), "BTC", decimal.NewFromInt(40000), types.RegimeSideways))
	bus.Publish(events.NewTradeCompleted(time.Now(), types.Trade{ID: "t1"}))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if prices != 2 {
		t.Errorf("Expected 2 price events, got %d", prices)
	}
	if trades != 1 {
		t.Errorf("Expected 1 trade event, got %d", trades)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 16)

	var mu sync.Mutex
	var count int
	sub := bus.Subscribe(events.TypeStarted, func(ev events.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Unsubscribe(sub)
	bus.Publish(events.NewLifecycle(events.TypeStarted, time.Now()))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("Unsubscribed handler should not run, ran %d times", count)
	}
	if sub.IsActive() {
		t.Error("Subscription should be inactive")
	}
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 16)

	bus.SubscribeAll(func(ev events.Event) error {
		panic("boom")
	})

	var mu sync.Mutex
	var delivered int
	bus.SubscribeAll(func(ev events.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	bus.Publish(events.NewLifecycle(events.TypeStarted, time.Now()))
	bus.Publish(events.NewLifecycle(events.TypeStopped, time.Now()))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 2 {
		t.Errorf("Panicking subscriber must not block others: delivered %d of 2", delivered)
	}
	if bus.GetStats().Errors != 2 {
		t.Errorf("Expected 2 handler errors, got %d", bus.GetStats().Errors)
	}
}

func TestHandlerErrorsCounted(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 16)

	bus.SubscribeAll(func(ev events.Event) error {
		return fmt.Errorf("handler rejected %s", ev.EventType())
	})
	bus.Publish(events.NewLifecycle(events.TypeStarted, time.Now()))
	bus.Close()

	stats := bus.GetStats()
	if stats.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", stats.Errors)
	}
	if stats.Published != 1 || stats.Delivered != 1 {
		t.Errorf("Stats mismatch: %+v", stats)
	}
}
