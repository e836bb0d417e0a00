package mine

import (
	"fmt"
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/bank"
	"warmines.gg/internal/sim/token"
	"warmines.gg/internal/telemetry"
)

// Config fixes a mine's immutable parameters at creation time. Combat and
// economy tunables are shared across mines and injected by the registry.
type Config struct {
	ID               string
	Resource         token.Asset
	InitialDailyRate int64
	HalvingPeriod    time.Duration
	CreatedAt        time.Time

	MinMercs         int64
	BoostDuration    time.Duration
	BoostCostDivisor int64
	AbandonWait      time.Duration
	AbandonBurnBps   int64
	HalvingShiftCap  uint
	DayLength        time.Duration
}

// BattleEntry is an immutable record of one seizure attempt.
type BattleEntry struct {
	Attacker      string    `json:"attacker"`
	PrevOwner     string    `json:"prev_owner,omitempty"`
	AttackerTier  int       `json:"attacker_tier"`
	AttackerForce int64     `json:"attacker_force"`
	DefenderTier  int       `json:"defender_tier,omitempty"`
	DefenderForce int64     `json:"defender_force"`
	AttackerLoss  int64     `json:"attacker_loss"`
	DefenderLoss  int64     `json:"defender_loss"`
	AttackerWon   bool      `json:"attacker_won"`
	At            time.Time `json:"at"`
}

// Mine is a capturable production site. Its escrowed defenders live in the
// bank under the mine's own ID; the mine holds only ownership, timing, and
// the battle log. State is owned by the engine loop goroutine.
type Mine struct {
	cfg Config

	owner        string // "" while unclaimed
	defenderTier int    // 0 while no defenders escrowed
	lastSeized   time.Time
	lastClaim    time.Time
	boostExpiry  time.Time

	battles []BattleEntry

	bank *bank.Bank
	reg  *token.Registry
	rec  telemetry.Recorder
}

func New(cfg Config, b *bank.Bank, reg *token.Registry) *Mine {
	m := &Mine{
		cfg:        cfg,
		bank:       b,
		reg:        reg,
		rec:        telemetry.NewNoopRecorder(),
		lastSeized: cfg.CreatedAt,
		lastClaim:  cfg.CreatedAt,
	}
	return m
}

func (m *Mine) SetRecorder(rec telemetry.Recorder) {
	if rec != nil {
		m.rec = rec
	}
}

func (m *Mine) ID() string             { return m.cfg.ID }
func (m *Mine) Resource() token.Asset  { return m.cfg.Resource }
func (m *Mine) Owner() string          { return m.owner }
func (m *Mine) Unclaimed() bool        { return m.owner == "" }
func (m *Mine) DefenderTier() int      { return m.defenderTier }
func (m *Mine) BoostExpiry() time.Time { return m.boostExpiry }
func (m *Mine) LastSeized() time.Time  { return m.lastSeized }

// Defenders reads the live escrowed defender amount from the bank, so an
// out-of-band privileged spend is always reflected here.
func (m *Mine) Defenders() int64 {
	if m.defenderTier == 0 {
		return 0
	}
	a := m.reg.AssetByTier(m.defenderTier)
	if a == nil {
		return 0
	}
	return m.bank.Balance(m.cfg.ID, a.ID())
}

// CurrentProduction returns the units-per-day output rate at `now`. The rate
// halves every HalvingPeriod since the last seizure; the shift is capped so
// old mines read exactly zero instead of shifting unboundedly.
func (m *Mine) CurrentProduction(now time.Time) int64 {
	return m.rateAfter(m.periodsSince(now))
}

func (m *Mine) periodsSince(now time.Time) uint64 {
	elapsed := now.Sub(m.lastSeized)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / m.cfg.HalvingPeriod)
}

func (m *Mine) rateAfter(periods uint64) int64 {
	if periods >= uint64(m.cfg.HalvingShiftCap) {
		return 0
	}
	return m.cfg.InitialDailyRate >> periods
}

// AccumulatedResources integrates the piecewise-constant decaying rate over
// [max(lastSeized, lastClaim), now]. Pure projection; no state mutation.
func (m *Mine) AccumulatedResources(now time.Time) int64 {
	if m.owner == "" {
		return 0
	}
	from := m.lastClaim
	if m.lastSeized.After(from) {
		from = m.lastSeized
	}
	if !now.After(from) {
		return 0
	}

	daySecs := int64(m.cfg.DayLength / time.Second)
	period := m.cfg.HalvingPeriod

	// Walk halving periods k since lastSeized that overlap [from, now].
	var unitSeconds int64 // sum of rate_k * overlap_seconds
	k := m.periodsSince(from)
	for {
		rate := m.rateAfter(k)
		if rate == 0 {
			break
		}
		segStart := m.lastSeized.Add(time.Duration(k) * period)
		segEnd := segStart.Add(period)
		lo := segStart
		if from.After(lo) {
			lo = from
		}
		hi := segEnd
		if now.Before(hi) {
			hi = now
		}
		if hi.After(lo) {
			unitSeconds += rate * int64(hi.Sub(lo)/time.Second)
		}
		if !segEnd.Before(now) {
			break
		}
		k++
	}
	return unitSeconds / daySecs
}

// ClaimResources credits all accrued output to the owner. A zero-accrual
// claim is a hard error so a misconfigured rate surfaces instead of
// silently no-opping.
func (m *Mine) ClaimResources(caller string, now time.Time) (int64, error) {
	if err := m.requireOwner(caller); err != nil {
		return 0, err
	}
	amount := m.AccumulatedResources(now)
	if amount <= 0 {
		return 0, protocol.Errf(protocol.ErrInsufficientBalance, "no resources accrued")
	}
	if err := m.bank.AddBalance(m.cfg.ID, caller, m.cfg.Resource, amount); err != nil {
		return 0, err
	}
	m.lastClaim = now

	telemetry.Emit(func() error {
		return m.rec.RecordClaim(telemetry.ClaimEvent{
			Mine: m.cfg.ID, Owner: caller, Asset: m.cfg.Resource.ID(), Amount: amount, At: now,
		})
	})
	return amount, nil
}

// Seize commits the attacker's entire custodial balance of the tier's asset
// against the mine's escrowed defenders.
func (m *Mine) Seize(attacker string, tier int, now time.Time) (BattleEntry, error) {
	attAsset := m.reg.AssetByTier(tier)
	if attAsset == nil {
		return BattleEntry{}, protocol.Errf(protocol.ErrMercTierUnknown, fmt.Sprintf("no merc asset for tier %d", tier))
	}
	force := m.bank.Balance(attacker, attAsset.ID())
	if force == 0 {
		return BattleEntry{}, protocol.Errf(protocol.ErrInsufficientMercs, "no committed force")
	}
	if force < m.cfg.MinMercs {
		return BattleEntry{}, protocol.Errf(protocol.ErrBelowMinMercs,
			fmt.Sprintf("%d mercs committed, minimum is %d", force, m.cfg.MinMercs))
	}
	if m.owner == attacker {
		return BattleEntry{}, protocol.Errf(protocol.ErrAlreadyOwned, "cannot seize own mine")
	}

	if m.owner == "" {
		return m.captureUnclaimed(attacker, tier, attAsset, force, now)
	}
	return m.fight(attacker, tier, attAsset, force, now)
}

func (m *Mine) captureUnclaimed(attacker string, tier int, attAsset token.Asset, force int64, now time.Time) (BattleEntry, error) {
	if err := m.bank.TransferBalance(m.cfg.ID, attacker, m.cfg.ID, attAsset, force); err != nil {
		return BattleEntry{}, err
	}
	m.owner = attacker
	m.defenderTier = tier
	m.lastSeized = now
	m.boostExpiry = time.Time{}

	entry := BattleEntry{
		Attacker:      attacker,
		AttackerTier:  tier,
		AttackerForce: force,
		AttackerWon:   true,
		At:            now,
	}
	m.record(entry, int64(tier)*force, 0)
	return entry, nil
}

func (m *Mine) fight(attacker string, tier int, attAsset token.Asset, force int64, now time.Time) (BattleEntry, error) {
	defAsset := m.reg.AssetByTier(m.defenderTier)
	if defAsset == nil {
		return BattleEntry{}, protocol.Errf(protocol.ErrMercTierUnknown, fmt.Sprintf("no merc asset for tier %d", m.defenderTier))
	}
	defenders := m.bank.Balance(m.cfg.ID, defAsset.ID())
	if defenders == 0 {
		// Escrow drained out of band: the seizure reverts rather than
		// treating the mine as unclaimed.
		return BattleEntry{}, protocol.Errf(protocol.ErrInsufficientMercs, "mine has no defenders")
	}

	attPower := int64(tier) * force
	defPower := int64(m.defenderTier) * defenders
	if now.Before(m.boostExpiry) {
		defPower *= 2
	}

	entry := BattleEntry{
		Attacker:      attacker,
		PrevOwner:     m.owner,
		AttackerTier:  tier,
		AttackerForce: force,
		DefenderTier:  m.defenderTier,
		DefenderForce: defenders,
		At:            now,
	}

	if attPower > defPower {
		// Attacker wins: the whole garrison dies, the attacker loses a
		// power-proportional share, the survivors become the new garrison.
		loss := clamp(defenders*defPower/attPower, force)
		if err := m.bank.SpendBalance(m.cfg.ID, m.cfg.ID, defAsset, defenders); err != nil {
			return BattleEntry{}, err
		}
		if loss > 0 {
			if err := m.bank.SpendBalance(m.cfg.ID, attacker, attAsset, loss); err != nil {
				return BattleEntry{}, err
			}
		}
		if surviving := force - loss; surviving > 0 {
			if err := m.bank.TransferBalance(m.cfg.ID, attacker, m.cfg.ID, attAsset, surviving); err != nil {
				return BattleEntry{}, err
			}
		}
		m.owner = attacker
		m.defenderTier = tier
		m.lastSeized = now
		m.boostExpiry = time.Time{}

		entry.AttackerLoss = loss
		entry.DefenderLoss = defenders
		entry.AttackerWon = true
		m.record(entry, attPower, defPower)
		return entry, nil
	}

	// Defender wins (ties favor the defender): the attacking force is
	// destroyed outright, the garrison pays a power-proportional share.
	loss := clamp(force*attPower/defPower, defenders)
	if err := m.bank.SpendBalance(m.cfg.ID, attacker, attAsset, force); err != nil {
		return BattleEntry{}, err
	}
	if loss > 0 {
		if err := m.bank.SpendBalance(m.cfg.ID, m.cfg.ID, defAsset, loss); err != nil {
			return BattleEntry{}, err
		}
	}
	entry.AttackerLoss = force
	entry.DefenderLoss = loss
	m.record(entry, attPower, defPower)
	return entry, nil
}

// ActivateDefenseBoost doubles defending power until now+BoostDuration,
// charged in anchor currency at a tenth of the garrison size.
func (m *Mine) ActivateDefenseBoost(caller string, now time.Time) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	gold := m.reg.Asset(m.reg.Anchor())
	cost := m.Defenders() / m.cfg.BoostCostDivisor
	if cost > 0 {
		if m.bank.Balance(caller, gold.ID()) < cost {
			return protocol.Errf(protocol.ErrInsufficientGold,
				fmt.Sprintf("boost costs %d %s", cost, gold.ID()))
		}
		if err := m.bank.SpendBalance(m.cfg.ID, caller, gold, cost); err != nil {
			return err
		}
	}
	m.boostExpiry = now.Add(m.cfg.BoostDuration)

	telemetry.Emit(func() error {
		return m.rec.RecordBoost(telemetry.BoostEvent{
			Mine: m.cfg.ID, Owner: caller, Cost: cost, Expiry: m.boostExpiry, At: now,
		})
	})
	return nil
}

// Abandon returns 90% of the garrison to the owner, destroys the rest, and
// resets the mine to unclaimed. Blocked inside the post-seizure cooldown to
// stop seize-then-abandon griefing.
func (m *Mine) Abandon(caller string, now time.Time) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if now.Before(m.lastSeized.Add(m.cfg.AbandonWait)) {
		return protocol.Errf(protocol.ErrMustWait,
			fmt.Sprintf("abandon allowed %s after seizing", m.cfg.AbandonWait))
	}

	owner := m.owner
	defenders := m.Defenders()
	var destroyed, returned int64
	if defenders > 0 {
		defAsset := m.reg.AssetByTier(m.defenderTier)
		destroyed = defenders * m.cfg.AbandonBurnBps / 10000
		returned = defenders - destroyed
		if destroyed > 0 {
			if err := m.bank.SpendBalance(m.cfg.ID, m.cfg.ID, defAsset, destroyed); err != nil {
				return err
			}
		}
		if returned > 0 {
			if err := m.bank.TransferBalance(m.cfg.ID, m.cfg.ID, owner, defAsset, returned); err != nil {
				return err
			}
		}
	}
	m.owner = ""
	m.defenderTier = 0
	m.boostExpiry = time.Time{}

	telemetry.Emit(func() error {
		return m.rec.RecordAbandon(telemetry.AbandonEvent{
			Mine: m.cfg.ID, Owner: owner, Returned: returned, Destroyed: destroyed, At: now,
		})
	})
	return nil
}

func (m *Mine) requireOwner(caller string) error {
	if m.owner == "" || caller != m.owner {
		return protocol.Errf(protocol.ErrNotOwner, caller+" does not own "+m.cfg.ID)
	}
	return nil
}

func (m *Mine) record(entry BattleEntry, attPower, defPower int64) {
	m.battles = append(m.battles, entry)
	telemetry.Emit(func() error {
		return m.rec.RecordBattle(telemetry.BattleEvent{
			Mine:          m.cfg.ID,
			Attacker:      entry.Attacker,
			PrevOwner:     entry.PrevOwner,
			AttackerTier:  entry.AttackerTier,
			AttackerForce: entry.AttackerForce,
			DefenderTier:  entry.DefenderTier,
			DefenderForce: entry.DefenderForce,
			AttackerPower: attPower,
			DefenderPower: defPower,
			AttackerLoss:  entry.AttackerLoss,
			DefenderLoss:  entry.DefenderLoss,
			AttackerWon:   entry.AttackerWon,
			At:            entry.At,
		})
	})
}

func clamp(v, max int64) int64 {
	if v > max {
		return max
	}
	return v
}
