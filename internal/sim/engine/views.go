package engine

import (
	"sort"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/mine"
)

// Status is a point-in-time health view of the economy.
type Status struct {
	EngineID      string           `json:"engine_id"`
	Paused        bool             `json:"paused"`
	Solvent       bool             `json:"solvent"`
	CatalogDigest string           `json:"catalog_digest"`
	Anchor        string           `json:"anchor"`
	Held          map[string]int64 `json:"held"`
	Custody       map[string]int64 `json:"custody_totals"`
	Sessions      int              `json:"sessions"`
}

// PlayerBalances pairs wallet and custodial holdings for one player.
type PlayerBalances struct {
	Player  string           `json:"player"`
	Wallet  map[string]int64 `json:"wallet"`
	Custody map[string]int64 `json:"custody"`
}

func (e *Engine) Params() protocol.EngineParams {
	var p protocol.EngineParams
	e.do(func() { p = e.params() })
	return p
}

func (e *Engine) Status() Status {
	var s Status
	e.do(func() {
		s = Status{
			EngineID:      e.cfg.ID,
			Paused:        e.bank.Paused(),
			Solvent:       true,
			CatalogDigest: e.cats.Digest,
			Anchor:        e.assets.Anchor(),
			Held:          map[string]int64{},
			Custody:       map[string]int64{},
			Sessions:      len(e.clients),
		}
		for _, id := range e.assets.AssetIDs() {
			held := e.assets.Asset(id).BalanceOf(e.bank.ID())
			total := e.bank.Total(id)
			s.Held[id] = held
			s.Custody[id] = total
			if held < total {
				s.Solvent = false
			}
		}
	})
	return s
}

func (e *Engine) MineSnapshots() []mine.Snapshot {
	var out []mine.Snapshot
	e.do(func() { out = e.mines.Snapshots(e.clock()) })
	return out
}

func (e *Engine) MineSnapshot(id string) (mine.Snapshot, error) {
	var (
		snap mine.Snapshot
		err  error
	)
	e.do(func() {
		var m *mine.Mine
		m, err = e.mines.Get(id)
		if err == nil {
			snap = m.Snapshot(e.clock())
		}
	})
	return snap, err
}

func (e *Engine) BattleLog(id string, offset, limit int) ([]mine.BattleEntry, int, error) {
	var (
		entries []mine.BattleEntry
		total   int
		err     error
	)
	e.do(func() {
		var m *mine.Mine
		m, err = e.mines.Get(id)
		if err == nil {
			entries = m.BattleLog(offset, limit)
			total = m.BattleCount()
		}
	})
	return entries, total, err
}

// BattlePower previews the combat power of a hypothetical force at a mine,
// without mutating anything.
func (e *Engine) BattlePower(id string, tier int, quantity int64, defending bool) (int64, error) {
	var (
		power int64
		err   error
	)
	e.do(func() {
		var m *mine.Mine
		m, err = e.mines.Get(id)
		if err == nil {
			power, err = m.BattlePower(tier, quantity, defending, e.clock())
		}
	})
	return power, err
}

func (e *Engine) Balances(player string) PlayerBalances {
	out := PlayerBalances{Player: player, Wallet: map[string]int64{}, Custody: map[string]int64{}}
	e.do(func() {
		for _, id := range e.assets.AssetIDs() {
			if v := e.assets.Asset(id).BalanceOf(player); v != 0 {
				out.Wallet[id] = v
			}
			if v := e.bank.Balance(player, id); v != 0 {
				out.Custody[id] = v
			}
		}
	})
	return out
}

func (e *Engine) MineIDs() []string {
	var ids []string
	e.do(func() { ids = e.mines.IDs() })
	sort.Strings(ids)
	return ids
}

// Pause trips the circuit breaker; every mutating op fails E_PAUSED until
// Unpause. Admin identity is fixed at wiring time.
func (e *Engine) Pause() error {
	var err error
	e.do(func() { err = e.bank.Pause(e.cfg.AdminID) })
	return err
}

func (e *Engine) Unpause() error {
	var err error
	e.do(func() { err = e.bank.Unpause(e.cfg.AdminID) })
	return err
}

// Mint issues new wallet supply. Operational faucet for onboarding and
// load tests; not reachable from the player protocol.
func (e *Engine) Mint(to, assetID string, amount int64) error {
	var err error
	e.do(func() {
		tok := e.toks[assetID]
		if tok == nil {
			err = protocol.Errf(protocol.ErrAssetUnknown, "no asset "+assetID)
			return
		}
		err = tok.Mint(to, amount)
	})
	return err
}
