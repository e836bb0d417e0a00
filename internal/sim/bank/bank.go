package bank

import (
	"fmt"
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/token"
	"warmines.gg/internal/telemetry"
)

// Role gates the privileged balance operations. Mines get RoleOperator when
// the registry wires them; RoleAdmin controls the pause breaker and minting.
type Role int

const (
	RoleOperator Role = 1 << iota
	RoleAdmin
)

type Config struct {
	// ID is the bank's own holder identity inside every asset ledger.
	ID string

	// SinkPlayer receives exit-tax tokens when an asset refuses to burn.
	SinkPlayer string

	WithdrawTaxDivisor int
	RateLimitBps       int64
	RateWindow         time.Duration
}

// window tracks withdrawals per (player, asset) inside a rolling period.
type window struct {
	Start     time.Time
	Withdrawn int64
	Limit     int64 // effective limit recomputed on each withdrawal
}

// Bank is the custodial escrow ledger. For every asset it maintains the
// solvency invariant: the bank's actual held balance covers the sum of all
// custodial balances. Surplus is tolerated, deficit never.
//
// All state is owned by the engine loop goroutine. The `locked` flag is not
// for goroutine safety: it rejects re-entrant calls made by an adversarial
// asset implementation during an external call-out.
type Bank struct {
	cfg Config

	custody map[string]map[string]int64 // asset -> player -> amount
	totals  map[string]int64            // asset -> sum of custody
	windows map[string]*window          // player + "\x00" + asset

	roles  map[string]Role
	paused bool
	locked bool

	rec   telemetry.Recorder
	clock func() time.Time
}

func New(cfg Config) *Bank {
	if cfg.ID == "" {
		cfg.ID = "bank"
	}
	if cfg.SinkPlayer == "" {
		cfg.SinkPlayer = "furnace"
	}
	if cfg.WithdrawTaxDivisor < 1 {
		cfg.WithdrawTaxDivisor = 2
	}
	return &Bank{
		cfg:     cfg,
		custody: map[string]map[string]int64{},
		totals:  map[string]int64{},
		windows: map[string]*window{},
		roles:   map[string]Role{},
		rec:     telemetry.NewNoopRecorder(),
		clock:   time.Now,
	}
}

func (b *Bank) SetRecorder(rec telemetry.Recorder) {
	if rec != nil {
		b.rec = rec
	}
}

func (b *Bank) SetClock(clock func() time.Time) {
	if clock != nil {
		b.clock = clock
	}
}

func (b *Bank) ID() string   { return b.cfg.ID }
func (b *Bank) Paused() bool { return b.paused }

// Grant adds a role to a caller identity. Wiring-time only; not payable by
// untrusted input.
func (b *Bank) Grant(id string, role Role) { b.roles[id] |= role }

func (b *Bank) HasRole(id string, role Role) bool { return b.roles[id]&role == role }

func (b *Bank) Pause(caller string) error {
	if !b.HasRole(caller, RoleAdmin) {
		return protocol.Errf(protocol.ErrNoPermission, "pause requires admin role")
	}
	b.paused = true
	return nil
}

func (b *Bank) Unpause(caller string) error {
	if !b.HasRole(caller, RoleAdmin) {
		return protocol.Errf(protocol.ErrNoPermission, "unpause requires admin role")
	}
	b.paused = false
	return nil
}

// Balance returns the custodial balance for one (player, asset) pair.
func (b *Bank) Balance(player, assetID string) int64 {
	return b.custody[assetID][player]
}

// Total returns the sum of custodial balances for one asset.
func (b *Bank) Total(assetID string) int64 { return b.totals[assetID] }

// Window reports the current withdrawal window for one (player, asset) pair.
// The zero window means no withdrawal has happened yet.
func (b *Bank) Window(player, assetID string) (start time.Time, withdrawn, limit int64) {
	w := b.windows[windowKey(player, assetID)]
	if w == nil {
		return time.Time{}, 0, 0
	}
	return w.Start, w.Withdrawn, w.Limit
}

// Deposit pulls amount from the player's wallet into custody. The guard is
// held across the external pull so a hostile asset cannot re-enter.
func (b *Bank) Deposit(player string, a token.Asset, amount int64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "deposit amount must be positive")
	}
	if err := a.TransferFrom(b.cfg.ID, player, b.cfg.ID, amount); err != nil {
		return err
	}
	b.credit(player, a.ID(), amount)
	if err := b.checkSolvency(a); err != nil {
		return err
	}

	telemetry.Emit(func() error {
		return b.rec.RecordDeposit(telemetry.DepositEvent{
			Player: player, Asset: a.ID(), Amount: amount, At: b.clock(),
		})
	})
	return nil
}

// Withdraw debits the full amount, enforces the sliding-window rate limit
// against the post-debit balance, returns half to the player, and burns the
// rest (falling back to the sink when the asset refuses to burn).
func (b *Bank) Withdraw(player string, a token.Asset, amount int64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	assetID := a.ID()
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "withdraw amount must be positive")
	}
	if b.custody[assetID][player] < amount {
		return protocol.Errf(protocol.ErrInsufficientBalance,
			fmt.Sprintf("withdraw %d of %s, custody has %d", amount, assetID, b.custody[assetID][player]))
	}

	returned := amount / int64(b.cfg.WithdrawTaxDivisor)
	burned := amount - returned

	b.debit(player, assetID, amount)
	if err := b.checkSolvency(a); err != nil {
		b.credit(player, assetID, amount)
		return err
	}

	if err := b.consumeRateLimit(player, assetID, amount); err != nil {
		// Atomic revert: restore the debit before surfacing the failure.
		b.credit(player, assetID, amount)
		return err
	}

	if returned > 0 {
		if err := a.Transfer(b.cfg.ID, player, returned); err != nil {
			b.credit(player, assetID, amount)
			b.unwindRateLimit(player, assetID, amount)
			return err
		}
	}
	if burned > 0 {
		if err := a.Burn(b.cfg.ID, burned); err != nil {
			// Exit flows must not be blockable by an uncooperative asset:
			// route to the sink and ignore the result.
			_ = a.Transfer(b.cfg.ID, b.cfg.SinkPlayer, burned)
		}
	}
	if err := b.checkSolvency(a); err != nil {
		return err
	}

	telemetry.Emit(func() error {
		return b.rec.RecordWithdraw(telemetry.WithdrawEvent{
			Player: player, Asset: assetID, Amount: amount,
			Returned: returned, Burned: burned, At: b.clock(),
		})
	})
	return nil
}

// SpendBalance destroys amount from a player's custodial balance, burning the
// underlying tokens. Privileged.
func (b *Bank) SpendBalance(caller, player string, a token.Asset, amount int64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	if err := b.requireOperator(caller); err != nil {
		return err
	}
	assetID := a.ID()
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "spend amount must be positive")
	}
	if b.custody[assetID][player] < amount {
		return protocol.Errf(protocol.ErrInsufficientBalance,
			fmt.Sprintf("spend %d of %s, custody has %d", amount, assetID, b.custody[assetID][player]))
	}
	b.debit(player, assetID, amount)
	if err := a.Burn(b.cfg.ID, amount); err != nil {
		_ = a.Transfer(b.cfg.ID, b.cfg.SinkPlayer, amount)
	}
	return b.checkSolvency(a)
}

// AddBalance mints amount into a player's custodial balance. Privileged.
func (b *Bank) AddBalance(caller, player string, a token.Asset, amount int64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	if err := b.requireOperator(caller); err != nil {
		return err
	}
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "add amount must be positive")
	}
	if err := a.Mint(b.cfg.ID, amount); err != nil {
		return err
	}
	b.credit(player, a.ID(), amount)
	return b.checkSolvency(a)
}

// TransferBalance moves custodial balance between two players with no tax and
// no rate-limit interaction. Privileged.
func (b *Bank) TransferBalance(caller, from, to string, a token.Asset, amount int64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()

	if err := b.requireOperator(caller); err != nil {
		return err
	}
	assetID := a.ID()
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "transfer amount must be positive")
	}
	if b.custody[assetID][from] < amount {
		return protocol.Errf(protocol.ErrInsufficientBalance,
			fmt.Sprintf("transfer %d of %s, custody has %d", amount, assetID, b.custody[assetID][from]))
	}
	b.debit(from, assetID, amount)
	b.credit(to, assetID, amount)
	return b.checkSolvency(a)
}

func (b *Bank) enter() error {
	if b.locked {
		return protocol.Errf(protocol.ErrReentrancy, "re-entrant bank call")
	}
	if b.paused {
		return protocol.Errf(protocol.ErrPaused, "bank is paused")
	}
	b.locked = true
	return nil
}

func (b *Bank) exit() { b.locked = false }

func (b *Bank) requireOperator(caller string) error {
	if !b.HasRole(caller, RoleOperator) {
		return protocol.Errf(protocol.ErrNoPermission, caller+" lacks operator role")
	}
	return nil
}

func (b *Bank) credit(player, assetID string, amount int64) {
	m := b.custody[assetID]
	if m == nil {
		m = map[string]int64{}
		b.custody[assetID] = m
	}
	m[player] += amount
	b.totals[assetID] += amount
}

func (b *Bank) debit(player, assetID string, amount int64) {
	b.custody[assetID][player] -= amount
	b.totals[assetID] -= amount
	if b.custody[assetID][player] == 0 {
		delete(b.custody[assetID], player)
	}
}

// checkSolvency re-verifies the global invariant for one asset. A violation
// is fatal: the operation fails TotalMismatch and the breaker trips so no
// further mutation can widen the hole.
func (b *Bank) checkSolvency(a token.Asset) error {
	held := a.BalanceOf(b.cfg.ID)
	if held < b.totals[a.ID()] {
		b.paused = true
		return protocol.Errf(protocol.ErrTotalMismatch,
			fmt.Sprintf("asset %s holds %d, custody claims %d", a.ID(), held, b.totals[a.ID()]))
	}
	return nil
}

// consumeRateLimit enforces the sliding-window limit and, on success, records
// the withdrawal in the window. postDebit custody is the limit base, so the
// limit follows the current balance rather than the balance at window start.
func (b *Bank) consumeRateLimit(player, assetID string, amount int64) error {
	if b.cfg.RateLimitBps == 0 {
		return nil
	}
	now := b.clock()
	key := windowKey(player, assetID)
	start, withdrawn := now, int64(0)
	if w := b.windows[key]; w != nil && !now.After(w.Start.Add(b.cfg.RateWindow)) {
		start, withdrawn = w.Start, w.Withdrawn
	}
	limit := b.custody[assetID][player] * b.cfg.RateLimitBps / 10000
	if withdrawn+amount > limit {
		// A refused withdrawal leaves no trace: the window is written
		// only on success, so the revert needs no window rollback.
		return protocol.Errf(protocol.ErrRateLimitExceeded,
			fmt.Sprintf("window has %d of %d, want %d more", withdrawn, limit, amount))
	}
	b.windows[key] = &window{Start: start, Withdrawn: withdrawn + amount, Limit: limit}
	return nil
}

func (b *Bank) unwindRateLimit(player, assetID string, amount int64) {
	if b.cfg.RateLimitBps == 0 {
		return
	}
	if w := b.windows[windowKey(player, assetID)]; w != nil && w.Withdrawn >= amount {
		w.Withdrawn -= amount
	}
}

func windowKey(player, assetID string) string { return player + "\x00" + assetID }
