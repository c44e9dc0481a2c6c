// Package engine implements the trade-execution simulator: the portfolio
// ledger, the stochastic execution path, and the analytics derived from
// trade history.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dexsim/trading-sim/pkg/types"
)

var errInsufficientBalance = fmt.Errorf("insufficient balance")

// Ledger is the single authoritative holder of balances. Only the
// execution commit path mutates it for trade-driven changes; AddBalance
// exists for out-of-band top-ups. Balances never go negative: deltas are
// clamped at zero as an explicit contract.
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	initial    map[string]decimal.Decimal
	totalValue decimal.Decimal
	valuedAt   time.Time
}

// NewLedger seeds the ledger with the configured initial balances.
func NewLedger(initial map[string]decimal.Decimal) *Ledger {
	l := &Ledger{
		balances: make(map[string]decimal.Decimal, len(initial)),
		initial:  make(map[string]decimal.Decimal, len(initial)),
	}
	for asset, bal := range initial {
		rounded := types.RoundAmount(bal)
		l.balances[asset] = rounded
		l.initial[asset] = rounded
	}
	return l
}

// Balance returns the current balance of an asset (zero if unknown).
func (l *Ledger) Balance(asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Balances returns a copy of all balances.
func (l *Ledger) Balances() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// AddBalance credits an asset outside the trade path.
func (l *Ledger) AddBalance(asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyDeltaLocked(asset, amount)
}

// Commit atomically applies both legs of a swap. The balance check and
// the two deltas happen under one lock: either the trade fully commits
// or nothing changes.
func (l *Ledger) Commit(assetIn string, amountIn decimal.Decimal, assetOut string, amountOut decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[assetIn].LessThan(amountIn) {
		return errInsufficientBalance
	}
	l.applyDeltaLocked(assetIn, amountIn.Neg())
	l.applyDeltaLocked(assetOut, amountOut)
	return nil
}

// applyDeltaLocked adjusts one balance, clamping the result at zero so
// rounding error can never produce a negative holding. Caller holds l.mu.
func (l *Ledger) applyDeltaLocked(asset string, delta decimal.Decimal) {
	next := types.RoundAmount(l.balances[asset].Add(delta))
	if next.IsNegative() {
		next = decimal.Zero
	}
	l.balances[asset] = next
}

// Revalue recomputes the cached total value from balances and the given
// prices. Idempotent; assets without a price contribute nothing.
func (l *Ledger) Revalue(prices map[string]decimal.Decimal, now time.Time) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for asset, bal := range l.balances {
		if price, ok := prices[asset]; ok {
			total = total.Add(bal.Mul(price))
		}
	}
	l.totalValue = types.RoundAmount(total)
	l.valuedAt = now
	return l.totalValue
}

// TotalValue returns the last cached valuation.
func (l *Ledger) TotalValue() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalValue
}

// Reset restores the initial balances.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[string]decimal.Decimal, len(l.initial))
	for asset, bal := range l.initial {
		l.balances[asset] = bal
	}
	l.totalValue = decimal.Zero
}
