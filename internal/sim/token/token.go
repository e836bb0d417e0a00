package token

import (
	"errors"
	"fmt"

	"warmines.gg/internal/protocol"
)

// Asset is the opaque capability the bank and engine consume. Implementations
// are not trusted by the bank: a hostile Asset may call back into the bank
// from any of these methods, which is why the bank carries a re-entrancy
// guard around every call-out.
type Asset interface {
	ID() string
	Mint(to string, amount int64) error
	Burn(from string, amount int64) error
	BurnFrom(from, spender string, amount int64) error
	Transfer(from, to string, amount int64) error
	TransferFrom(spender, from, to string, amount int64) error
	BalanceOf(holder string) int64
}

// ErrBurnUnsupported is returned by assets that cannot destroy supply.
// Callers fall back to transferring into a sink holder.
var ErrBurnUnsupported = errors.New("burn unsupported")

// Token is the in-process fungible asset. State is owned by the engine loop
// goroutine; Token itself does no locking.
type Token struct {
	id       string
	burnable bool

	balances   map[string]int64
	allowances map[string]map[string]int64
	supply     int64
}

func New(id string, burnable bool) *Token {
	return &Token{
		id:         id,
		burnable:   burnable,
		balances:   map[string]int64{},
		allowances: map[string]map[string]int64{},
	}
}

func (t *Token) ID() string         { return t.id }
func (t *Token) Burnable() bool     { return t.burnable }
func (t *Token) TotalSupply() int64 { return t.supply }

func (t *Token) BalanceOf(holder string) int64 { return t.balances[holder] }

func (t *Token) Allowance(owner, spender string) int64 {
	return t.allowances[owner][spender]
}

func (t *Token) Approve(owner, spender string, amount int64) error {
	if amount < 0 {
		return protocol.Errf(protocol.ErrBadRequest, "negative allowance")
	}
	m := t.allowances[owner]
	if m == nil {
		m = map[string]int64{}
		t.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

func (t *Token) Mint(to string, amount int64) error {
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "mint amount must be positive")
	}
	t.balances[to] += amount
	t.supply += amount
	return nil
}

func (t *Token) Burn(from string, amount int64) error {
	if !t.burnable {
		return ErrBurnUnsupported
	}
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "burn amount must be positive")
	}
	if t.balances[from] < amount {
		return protocol.Errf(protocol.ErrInsufficientFunds, fmt.Sprintf("burn %d from %s", amount, from))
	}
	t.balances[from] -= amount
	t.supply -= amount
	return nil
}

func (t *Token) BurnFrom(from, spender string, amount int64) error {
	if !t.burnable {
		return ErrBurnUnsupported
	}
	if err := t.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	return t.Burn(from, amount)
}

func (t *Token) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "transfer amount must be positive")
	}
	if t.balances[from] < amount {
		return protocol.Errf(protocol.ErrInsufficientFunds, fmt.Sprintf("transfer %d from %s", amount, from))
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *Token) TransferFrom(spender, from, to string, amount int64) error {
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "transfer amount must be positive")
	}
	if t.balances[from] < amount {
		return protocol.Errf(protocol.ErrInsufficientFunds, fmt.Sprintf("transfer %d from %s", amount, from))
	}
	if err := t.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *Token) spendAllowance(owner, spender string, amount int64) error {
	if amount <= 0 {
		return protocol.Errf(protocol.ErrBadRequest, "amount must be positive")
	}
	have := t.allowances[owner][spender]
	if have < amount {
		return protocol.Errf(protocol.ErrInsufficientAuth, fmt.Sprintf("%s allowance for %s is %d, need %d", owner, spender, have, amount))
	}
	t.allowances[owner][spender] = have - amount
	return nil
}

// Holders returns a copy of all non-zero balances, for snapshots.
func (t *Token) Holders() map[string]int64 {
	out := make(map[string]int64, len(t.balances))
	for h, v := range t.balances {
		if v != 0 {
			out[h] = v
		}
	}
	return out
}

// AllowancesExport returns a copy of all non-zero allowances, keyed
// owner -> spender -> amount.
func (t *Token) AllowancesExport() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(t.allowances))
	for owner, spenders := range t.allowances {
		m := make(map[string]int64, len(spenders))
		for s, v := range spenders {
			if v != 0 {
				m[s] = v
			}
		}
		if len(m) > 0 {
			out[owner] = m
		}
	}
	return out
}

// Restore overwrites balances, allowances, and supply from a snapshot.
func (t *Token) Restore(balances map[string]int64, allowances map[string]map[string]int64) {
	t.balances = map[string]int64{}
	t.supply = 0
	for h, v := range balances {
		t.balances[h] = v
		t.supply += v
	}
	t.allowances = map[string]map[string]int64{}
	for owner, spenders := range allowances {
		m := make(map[string]int64, len(spenders))
		for s, v := range spenders {
			m[s] = v
		}
		t.allowances[owner] = m
	}
}
