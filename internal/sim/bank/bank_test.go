package bank

import (
	"errors"
	"testing"
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/token"
)

func testBank(t *testing.T, bps int64) (*Bank, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	b := New(Config{
		ID:                 "bank",
		SinkPlayer:         "furnace",
		WithdrawTaxDivisor: 2,
		RateLimitBps:       bps,
		RateWindow:         24 * time.Hour,
	})
	b.SetClock(func() time.Time { return now })
	return b, &now
}

// approvableAsset lets the funding helper accept the test doubles that wrap
// a Token, not just *token.Token itself.
type approvableAsset interface {
	token.Asset
	Approve(owner, spender string, amount int64) error
}

func fundAndDeposit(t *testing.T, b *Bank, tok approvableAsset, player string, amount int64) {
	t.Helper()
	if err := tok.Mint(player, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Approve(player, b.ID(), amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := b.Deposit(player, tok, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := protocol.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func assertSolvent(t *testing.T, b *Bank, tok *token.Token) {
	t.Helper()
	if held := tok.BalanceOf(b.ID()); held < b.Total(tok.ID()) {
		t.Fatalf("insolvent: held %d, custody total %d", held, b.Total(tok.ID()))
	}
}

func TestDepositCreditsCustody(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 100)

	if got := b.Balance("alice", "gold"); got != 100 {
		t.Fatalf("expected custody 100, got %d", got)
	}
	if got := gold.BalanceOf("alice"); got != 0 {
		t.Fatalf("expected empty wallet, got %d", got)
	}
	assertSolvent(t, b, gold)
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	assertCode(t, b.Deposit("alice", gold, 0), protocol.ErrBadRequest)
	assertCode(t, b.Deposit("alice", gold, -5), protocol.ErrBadRequest)
}

func TestDepositWithoutAllowance(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	if err := gold.Mint("alice", 50); err != nil {
		t.Fatalf("mint: %v", err)
	}
	assertCode(t, b.Deposit("alice", gold, 50), protocol.ErrInsufficientAuth)
	if got := b.Balance("alice", "gold"); got != 0 {
		t.Fatalf("failed deposit mutated custody: %d", got)
	}
}

func TestDepositWithoutFunds(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	if err := gold.Approve("alice", b.ID(), 50); err != nil {
		t.Fatalf("approve: %v", err)
	}
	assertCode(t, b.Deposit("alice", gold, 50), protocol.ErrInsufficientFunds)
}

func TestWithdrawSplitsHalf(t *testing.T) {
	cases := []struct {
		amount   int64
		returned int64
		burned   int64
	}{
		{1, 0, 1},
		{2, 1, 1},
		{99, 49, 50},
		{100, 50, 50},
	}
	for _, tc := range cases {
		b, _ := testBank(t, 0)
		gold := token.New("gold", true)
		fundAndDeposit(t, b, gold, "alice", tc.amount)

		supplyBefore := gold.TotalSupply()
		if err := b.Withdraw("alice", gold, tc.amount); err != nil {
			t.Fatalf("withdraw %d: %v", tc.amount, err)
		}
		if got := gold.BalanceOf("alice"); got != tc.returned {
			t.Fatalf("withdraw %d: expected %d returned, got %d", tc.amount, tc.returned, got)
		}
		if got := supplyBefore - gold.TotalSupply(); got != tc.burned {
			t.Fatalf("withdraw %d: expected %d burned, got %d", tc.amount, tc.burned, got)
		}
		if got := b.Balance("alice", "gold"); got != 0 {
			t.Fatalf("withdraw %d: custody left %d", tc.amount, got)
		}
		assertSolvent(t, b, gold)
	}
}

func TestWithdrawAllWithZeroBpsSucceeds(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 1000)
	if err := b.Withdraw("alice", gold, 1000); err != nil {
		t.Fatalf("rate limit 0 must disable limiting: %v", err)
	}
}

func TestWithdrawRateLimited(t *testing.T) {
	b, _ := testBank(t, 100) // 1%
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 100)

	err := b.Withdraw("alice", gold, 80)
	assertCode(t, err, protocol.ErrRateLimitExceeded)

	// Atomic revert: no state change anywhere.
	if got := b.Balance("alice", "gold"); got != 100 {
		t.Fatalf("custody changed on failed withdraw: %d", got)
	}
	if got := gold.BalanceOf("alice"); got != 0 {
		t.Fatalf("wallet changed on failed withdraw: %d", got)
	}
	if got := gold.TotalSupply(); got != 100 {
		t.Fatalf("supply changed on failed withdraw: %d", got)
	}
}

func TestFailedWithdrawLeavesWindowUntouched(t *testing.T) {
	b, now := testBank(t, 100) // 1%
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 10000)

	assertCode(t, b.Withdraw("alice", gold, 5000), protocol.ErrRateLimitExceeded)
	if start, withdrawn, limit := b.Window("alice", "gold"); !start.IsZero() || withdrawn != 0 || limit != 0 {
		t.Fatalf("failed withdraw left window state: start=%v withdrawn=%d limit=%d", start, withdrawn, limit)
	}

	// The refused attempt must not anchor the reset point: the window opens
	// with the first successful withdrawal, so a second one two hours later
	// still lands inside it.
	*now = now.Add(23 * time.Hour)
	if err := b.Withdraw("alice", gold, 90); err != nil {
		t.Fatalf("withdraw inside limit: %v", err)
	}
	*now = now.Add(2 * time.Hour)
	assertCode(t, b.Withdraw("alice", gold, 90), protocol.ErrRateLimitExceeded)
}

func TestWithdrawWindowResets(t *testing.T) {
	b, now := testBank(t, 5000) // 50%
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 3000)

	// post-debit 2000, limit 1000.
	if err := b.Withdraw("alice", gold, 1000); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	// post-debit 1500, limit 750, window already holds 1000.
	assertCode(t, b.Withdraw("alice", gold, 500), protocol.ErrRateLimitExceeded)

	*now = now.Add(24*time.Hour + time.Second)
	if err := b.Withdraw("alice", gold, 500); err != nil {
		t.Fatalf("withdraw after window reset: %v", err)
	}
}

func TestWithdrawSinkFallback(t *testing.T) {
	b, _ := testBank(t, 0)
	ore := token.New("iron", false) // refuses to burn
	fundAndDeposit(t, b, ore, "alice", 10)

	if err := b.Withdraw("alice", ore, 10); err != nil {
		t.Fatalf("withdraw with burn fallback: %v", err)
	}
	if got := ore.BalanceOf("alice"); got != 5 {
		t.Fatalf("expected 5 returned, got %d", got)
	}
	if got := ore.BalanceOf("furnace"); got != 5 {
		t.Fatalf("expected 5 sunk, got %d", got)
	}
	if got := ore.TotalSupply(); got != 10 {
		t.Fatalf("unburnable supply must not shrink: %d", got)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 10)
	assertCode(t, b.Withdraw("alice", gold, 11), protocol.ErrInsufficientBalance)
}

func TestPrivilegedOpsRequireRole(t *testing.T) {
	b, _ := testBank(t, 0)
	gold := token.New("gold", true)
	assertCode(t, b.SpendBalance("mallory", "alice", gold, 1), protocol.ErrNoPermission)
	assertCode(t, b.AddBalance("mallory", "alice", gold, 1), protocol.ErrNoPermission)
	assertCode(t, b.TransferBalance("mallory", "alice", "bob", gold, 1), protocol.ErrNoPermission)
}

func TestPrivilegedOps(t *testing.T) {
	b, _ := testBank(t, 0)
	b.Grant("mine_1", RoleOperator)
	gold := token.New("gold", true)

	if err := b.AddBalance("mine_1", "alice", gold, 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := b.Balance("alice", "gold"); got != 100 {
		t.Fatalf("expected 100 after add, got %d", got)
	}

	if err := b.TransferBalance("mine_1", "alice", "bob", gold, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := b.Balance("bob", "gold"); got != 40 {
		t.Fatalf("expected 40 for bob, got %d", got)
	}

	if err := b.SpendBalance("mine_1", "bob", gold, 40); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := b.Balance("bob", "gold"); got != 0 {
		t.Fatalf("expected 0 after spend, got %d", got)
	}
	assertCode(t, b.SpendBalance("mine_1", "bob", gold, 1), protocol.ErrInsufficientBalance)
	assertSolvent(t, b, gold)
}

func TestTransferBalanceSkipsTaxAndLimit(t *testing.T) {
	b, _ := testBank(t, 100)
	b.Grant("mine_1", RoleOperator)
	gold := token.New("gold", true)
	if err := b.AddBalance("mine_1", "alice", gold, 1000); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Far beyond the 1% withdraw limit, but internal transfers are exempt.
	if err := b.TransferBalance("mine_1", "alice", "bob", gold, 1000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := b.Balance("bob", "gold"); got != 1000 {
		t.Fatalf("expected full 1000, got %d", got)
	}
}

func TestPauseBreaker(t *testing.T) {
	b, _ := testBank(t, 0)
	b.Grant("root", RoleAdmin)
	b.Grant("mine_1", RoleOperator)
	gold := token.New("gold", true)
	fundAndDeposit(t, b, gold, "alice", 100)

	assertCode(t, b.Pause("alice"), protocol.ErrNoPermission)
	if err := b.Pause("root"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	assertCode(t, b.Withdraw("alice", gold, 10), protocol.ErrPaused)
	assertCode(t, b.Deposit("alice", gold, 10), protocol.ErrPaused)
	assertCode(t, b.AddBalance("mine_1", "alice", gold, 10), protocol.ErrPaused)

	// Reads stay available.
	if got := b.Balance("alice", "gold"); got != 100 {
		t.Fatalf("read under pause: %d", got)
	}

	if err := b.Unpause("root"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := b.Withdraw("alice", gold, 100); err != nil {
		t.Fatalf("withdraw after unpause: %v", err)
	}
}

// reentrantAsset calls back into the bank from inside the deposit pull.
type reentrantAsset struct {
	*token.Token
	bank    *Bank
	lastErr error
}

func (a *reentrantAsset) TransferFrom(spender, from, to string, amount int64) error {
	a.lastErr = a.bank.Withdraw(from, a.Token, amount)
	return a.Token.TransferFrom(spender, from, to, amount)
}

func TestReentrantCallbackRejected(t *testing.T) {
	b, _ := testBank(t, 0)
	hostile := &reentrantAsset{Token: token.New("evil", true), bank: b}
	if err := hostile.Mint("alice", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := hostile.Approve("alice", b.ID(), 10); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := b.Deposit("alice", hostile, 10); err != nil {
		t.Fatalf("outer deposit must succeed: %v", err)
	}
	assertCode(t, hostile.lastErr, protocol.ErrReentrancy)
}

// lyingAsset under-reports the bank's held balance.
type lyingAsset struct {
	*token.Token
	short int64
}

func (a *lyingAsset) BalanceOf(holder string) int64 {
	return a.Token.BalanceOf(holder) - a.short
}

func TestSolvencyMismatchTripsBreaker(t *testing.T) {
	b, _ := testBank(t, 0)
	liar := &lyingAsset{Token: token.New("gold", true)}
	fundAndDeposit(t, b, liar, "alice", 100)

	liar.short = 50
	err := b.Withdraw("alice", liar, 10)
	if !errors.Is(err, protocol.Errf(protocol.ErrTotalMismatch, "")) {
		t.Fatalf("expected total mismatch, got %v", err)
	}
	if !b.Paused() {
		t.Fatalf("solvency violation must trip the pause breaker")
	}
	if got := b.Balance("alice", "gold"); got != 100 {
		t.Fatalf("failed withdraw mutated custody: %d", got)
	}
}

func TestSolvencyHoldsAcrossSequences(t *testing.T) {
	b, now := testBank(t, 0)
	b.Grant("mine_1", RoleOperator)
	gold := token.New("gold", true)

	steps := []func() error{
		func() error { return gold.Mint("alice", 500) },
		func() error { return gold.Approve("alice", b.ID(), 500) },
		func() error { return b.Deposit("alice", gold, 300) },
		func() error { return b.Withdraw("alice", gold, 100) },
		func() error { return b.AddBalance("mine_1", "bob", gold, 250) },
		func() error { return b.TransferBalance("mine_1", "bob", "alice", gold, 200) },
		func() error { return b.SpendBalance("mine_1", "alice", gold, 150) },
		func() error { return b.Deposit("alice", gold, 200) },
		func() error { return b.Withdraw("alice", gold, 1) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		assertSolvent(t, b, gold)
		*now = now.Add(time.Minute)
	}
}
