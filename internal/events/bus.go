// Package events provides the typed publish/subscribe channel that
// decouples the simulation engine from its consumers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/pkg/types"
)

// Type identifies one entry of the closed event catalog.
type Type string

const (
	TypePriceUpdate    Type = "price_update"
	TypeTradeCreated   Type = "trade_created"
	TypeTradeCompleted Type = "trade_completed"
	TypeTradeFailed    Type = "trade_failed"
	TypeRiskAlert      Type = "risk_alert"
	TypePortfolioReset Type = "portfolio_reset"
	TypeDailyReset     Type = "daily_reset"
	TypeStarted        Type = "started"
	TypeStopped        Type = "stopped"
)

// Event is implemented by every published notification.
type Event interface {
	EventType() Type
	EventID() string
	OccurredAt() time.Time
}

// BaseEvent carries the fields common to all events.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() Type       { return e.Type }
func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

func newBase(t Type, ts time.Time) BaseEvent {
	return BaseEvent{ID: uuid.New().String(), Type: t, Timestamp: ts}
}

// PriceUpdateEvent is published after each market tick.
type PriceUpdateEvent struct {
	BaseEvent
	Asset  string             `json:"asset"`
	Price  decimal.Decimal    `json:"price"`
	Regime types.MarketRegime `json:"regime"`
}

// TradeCreatedEvent is published when a pending trade is accepted.
// It always precedes the completed/failed event for the same trade id.
type TradeCreatedEvent struct {
	BaseEvent
	Trade types.Trade `json:"trade"`
}

// TradeCompletedEvent is published after a successful commit.
type TradeCompletedEvent struct {
	BaseEvent
	Trade types.Trade `json:"trade"`
}

// TradeFailedEvent is published for failed and cancelled trades.
type TradeFailedEvent struct {
	BaseEvent
	Trade  types.Trade `json:"trade"`
	Reason string      `json:"reason"`
}

// RiskAlertEvent is published per risk-limit violation.
type RiskAlertEvent struct {
	BaseEvent
	Alert types.RiskAlert `json:"alert"`
}

// LifecycleEvent covers PortfolioReset, DailyReset, Started and Stopped.
type LifecycleEvent struct {
	BaseEvent
}

// NewPriceUpdate builds a PriceUpdateEvent.
func NewPriceUpdate(ts time.Time, asset string, price decimal.Decimal, regime types.MarketRegime) *PriceUpdateEvent {
	return &PriceUpdateEvent{BaseEvent: newBase(TypePriceUpdate, ts), Asset: asset, Price: price, Regime: regime}
}

// NewTradeCreated builds a TradeCreatedEvent from a snapshot of the trade.
func NewTradeCreated(ts time.Time, trade types.Trade) *TradeCreatedEvent {
	return &TradeCreatedEvent{BaseEvent: newBase(TypeTradeCreated, ts), Trade: trade}
}

// NewTradeCompleted builds a TradeCompletedEvent.
func NewTradeCompleted(ts time.Time, trade types.Trade) *TradeCompletedEvent {
	return &TradeCompletedEvent{BaseEvent: newBase(TypeTradeCompleted, ts), Trade: trade}
}

// NewTradeFailed builds a TradeFailedEvent.
func NewTradeFailed(ts time.Time, trade types.Trade) *TradeFailedEvent {
	return &TradeFailedEvent{BaseEvent: newBase(TypeTradeFailed, ts), Trade: trade, Reason: trade.FailureReason}
}

// NewRiskAlert builds a RiskAlertEvent.
func NewRiskAlert(ts time.Time, alert types.RiskAlert) *RiskAlertEvent {
	return &RiskAlertEvent{BaseEvent: newBase(TypeRiskAlert, ts), Alert: alert}
}

// NewLifecycle builds a bare lifecycle event of the given type.
func NewLifecycle(t Type, ts time.Time) *LifecycleEvent {
	return &LifecycleEvent{BaseEvent: newBase(t, ts)}
}

// Handler processes a delivered event.
type Handler func(Event) error

// Subscription represents an active registration on the bus.
type Subscription struct {
	ID      string
	Type    Type // "*" for all-event subscriptions
	Handler Handler
	active  atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// Stats tracks bus throughput.
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Errors      int64 `json:"errors"`
	Subscribers int64 `json:"subscribers"`
}

// Bus routes events to subscribers. A single dispatcher goroutine drains
// the publish buffer, so events are delivered in publish order: the
// created/completed/failed sequence of one trade is always observed in
// causal order. Publishing never blocks on subscriber processing; if the
// buffer is full the event is dropped and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]*Subscription
	all         []*Subscription

	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	published   atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	errors      atomic.Int64
	subCount    atomic.Int64

	logger *zap.Logger
}

// NewBus creates a bus with the given buffer size (default 4096) and
// starts its dispatcher.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	b := &Bus{
		subscribers: make(map[Type][]*Subscription),
		ch:          make(chan Event, bufferSize),
		done:        make(chan struct{}),
		logger:      logger.Named("events"),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-b.done:
			// Drain what was published before Close.
			for {
				select {
				case ev := <-b.ch:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.EventType()]
	all := b.all
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, ev)
	}
	for _, sub := range all {
		b.invoke(sub, ev)
	}
	b.delivered.Add(1)
}

// invoke runs a handler with panic recovery so one misbehaving
// subscriber cannot take down the dispatcher.
func (b *Bus) invoke(sub *Subscription, ev Event) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panic",
				zap.String("subscription", sub.ID),
				zap.String("event_type", string(ev.EventType())),
				zap.Any("panic", r),
			)
		}
	}()
	if err := sub.Handler(ev); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler error",
			zap.String("subscription", sub.ID),
			zap.String("event_type", string(ev.EventType())),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, handler Handler) *Subscription {
	sub := &Subscription{ID: uuid.New().String(), Type: t, Handler: handler}
	sub.active.Store(true)

	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], sub)
	b.mu.Unlock()
	b.subCount.Add(1)

	return sub
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	sub := &Subscription{ID: uuid.New().String(), Type: "*", Handler: handler}
	sub.active.Store(true)

	b.mu.Lock()
	b.all = append(b.all, sub)
	b.mu.Unlock()
	b.subCount.Add(1)

	return sub
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub.active.CompareAndSwap(true, false) {
		b.subCount.Add(-1)
	}
}

// Publish enqueues an event without blocking on subscriber processing.
func (b *Bus) Publish(ev Event) {
	select {
	case b.ch <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full",
			zap.String("event_type", string(ev.EventType())),
		)
	}
}

// GetStats returns current throughput counters.
func (b *Bus) GetStats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Errors:      b.errors.Load(),
		Subscribers: b.subCount.Load(),
	}
}

// Close stops the dispatcher after draining pending events. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}
