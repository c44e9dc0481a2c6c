package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dexsim/trading-sim/internal/engine"
)

func newTestLedger() *engine.Ledger {
	return engine.NewLedger(map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(10),
		"USDC": decimal.NewFromInt(10000),
	})
}

func TestLedgerCommit(t *testing.T) {
	ledger := newTestLedger()

	err := ledger.Commit("ETH", decimal.NewFromInt(1), "USDC", decimal.NewFromInt(2000))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !ledger.Balance("ETH").Equal(decimal.NewFromInt(9)) {
		t.Errorf("ETH should be 9, got %s", ledger.Balance("ETH"))
	}
	if !ledger.Balance("USDC").Equal(decimal.NewFromInt(12000)) {
		t.Errorf("USDC should be 12000, got %s", ledger.Balance("USDC"))
	}
}

func TestLedgerCommitInsufficientBalanceIsAtomic(t *testing.T) {
	ledger := newTestLedger()

	err := ledger.Commit("ETH", decimal.NewFromInt(11), "USDC", decimal.NewFromInt(22000))
	if err == nil {
		t.Fatal("Expected insufficient balance error")
	}
	if !ledger.Balance("ETH").Equal(decimal.NewFromInt(10)) {
		t.Errorf("ETH must be untouched, got %s", ledger.Balance("ETH"))
	}
	if !ledger.Balance("USDC").Equal(decimal.NewFromInt(10000)) {
		t.Errorf("USDC must be untouched, got %s", ledger.Balance("USDC"))
	}
}

func TestLedgerRoundsToSixDigits(t *testing.T) {
	ledger := engine.NewLedger(map[string]decimal.Decimal{
		"ETH": decimal.RequireFromString("1.23456789"),
	})
	if !ledger.Balance("ETH").Equal(decimal.RequireFromString("1.234568")) {
		t.Errorf("Expected 1.234568, got %s", ledger.Balance("ETH"))
	}

	ledger.AddBalance("DAI", decimal.RequireFromString("0.0000014"))
	if !ledger.Balance("DAI").Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("Expected 0.000001, got %s", ledger.Balance("DAI"))
	}
}

func TestLedgerNeverGoesNegative(t *testing.T) {
	ledger := engine.NewLedger(map[string]decimal.Decimal{
		"ETH": decimal.RequireFromString("0.000001"),
	})
	// A full-balance debit plus rounding noise clamps at zero.
	if err := ledger.Commit("ETH", decimal.RequireFromString("0.000001"), "USDC", decimal.Zero); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if ledger.Balance("ETH").IsNegative() {
		t.Errorf("Balance went negative: %s", ledger.Balance("ETH"))
	}
}

func TestLedgerRevalue(t *testing.T) {
	ledger := newTestLedger()
	prices := map[string]decimal.Decimal{
		"ETH":  decimal.NewFromInt(2000),
		"USDC": decimal.NewFromInt(1),
	}

	total := ledger.Revalue(prices, time.Now())
	if !total.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Expected total 30000, got %s", total)
	}
	if !ledger.TotalValue().Equal(total) {
		t.Errorf("Cached total mismatch: %s vs %s", ledger.TotalValue(), total)
	}

	// Unpriced assets contribute nothing.
	ledger.AddBalance("MYSTERY", decimal.NewFromInt(1000))
	total = ledger.Revalue(prices, time.Now())
	if !total.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Unpriced asset must not change the total, got %s", total)
	}
}

func TestLedgerReset(t *testing.T) {
	ledger := newTestLedger()
	if err := ledger.Commit("ETH", decimal.NewFromInt(5), "USDC", decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	ledger.Reset()
	if !ledger.Balance("ETH").Equal(decimal.NewFromInt(10)) {
		t.Errorf("ETH should be back to 10, got %s", ledger.Balance("ETH"))
	}
	if !ledger.Balance("USDC").Equal(decimal.NewFromInt(10000)) {
		t.Errorf("USDC should be back to 10000, got %s", ledger.Balance("USDC"))
	}
}
