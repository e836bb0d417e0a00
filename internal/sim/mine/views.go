package mine

import (
	"time"

	"warmines.gg/internal/protocol"
)

// Snapshot is the read-only view served to front-ends.
type Snapshot struct {
	ID               string    `json:"id"`
	Resource         string    `json:"resource"`
	Owner            string    `json:"owner,omitempty"`
	DefenderTier     int       `json:"defender_tier,omitempty"`
	Defenders        int64     `json:"defenders"`
	InitialDailyRate int64     `json:"initial_daily_rate"`
	HalvingSecs      int64     `json:"halving_secs"`
	CurrentRate      int64     `json:"current_rate"`
	Accumulated      int64     `json:"accumulated"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeized       time.Time `json:"last_seized"`
	LastClaim        time.Time `json:"last_claim"`
	BoostExpiry      time.Time `json:"boost_expiry,omitempty"`
	BoostActive      bool      `json:"boost_active"`
	Battles          int       `json:"battles"`
}

func (m *Mine) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:               m.cfg.ID,
		Resource:         m.cfg.Resource.ID(),
		Owner:            m.owner,
		DefenderTier:     m.defenderTier,
		Defenders:        m.Defenders(),
		InitialDailyRate: m.cfg.InitialDailyRate,
		HalvingSecs:      int64(m.cfg.HalvingPeriod / time.Second),
		CurrentRate:      m.CurrentProduction(now),
		Accumulated:      m.AccumulatedResources(now),
		CreatedAt:        m.cfg.CreatedAt,
		LastSeized:       m.lastSeized,
		LastClaim:        m.lastClaim,
		BoostExpiry:      m.boostExpiry,
		BoostActive:      now.Before(m.boostExpiry),
		Battles:          len(m.battles),
	}
}

// BattleLog returns up to limit entries starting at offset, newest first.
func (m *Mine) BattleLog(offset, limit int) []BattleEntry {
	if offset < 0 || limit <= 0 || offset >= len(m.battles) {
		return nil
	}
	out := make([]BattleEntry, 0, limit)
	for i := len(m.battles) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.battles[i])
	}
	return out
}

func (m *Mine) BattleCount() int { return len(m.battles) }

// BattlePower previews the effective power of a hypothetical force at this
// mine. A defending force benefits from an active boost.
func (m *Mine) BattlePower(tier int, quantity int64, defending bool, now time.Time) (int64, error) {
	if m.reg.AssetByTier(tier) == nil {
		return 0, protocol.Errf(protocol.ErrMercTierUnknown, "no merc asset for tier")
	}
	if quantity < 0 {
		return 0, protocol.Errf(protocol.ErrBadRequest, "negative quantity")
	}
	power := int64(tier) * quantity
	if defending && now.Before(m.boostExpiry) {
		power *= 2
	}
	return power, nil
}
