package mine

import "time"

// Export is the serializable form of a mine's mutable state. Immutable
// parameters travel in the registry's config section of the snapshot.
type Export struct {
	ID           string        `json:"id"`
	Owner        string        `json:"owner,omitempty"`
	DefenderTier int           `json:"defender_tier,omitempty"`
	LastSeized   time.Time     `json:"last_seized"`
	LastClaim    time.Time     `json:"last_claim"`
	BoostExpiry  time.Time     `json:"boost_expiry,omitempty"`
	Battles      []BattleEntry `json:"battles,omitempty"`
}

func (m *Mine) ExportState() Export {
	battles := make([]BattleEntry, len(m.battles))
	copy(battles, m.battles)
	return Export{
		ID:           m.cfg.ID,
		Owner:        m.owner,
		DefenderTier: m.defenderTier,
		LastSeized:   m.lastSeized,
		LastClaim:    m.lastClaim,
		BoostExpiry:  m.boostExpiry,
		Battles:      battles,
	}
}

func (m *Mine) RestoreState(e Export) {
	m.owner = e.Owner
	m.defenderTier = e.DefenderTier
	m.lastSeized = e.LastSeized
	m.lastClaim = e.LastClaim
	m.boostExpiry = e.BoostExpiry
	m.battles = append([]BattleEntry(nil), e.Battles...)
}

// ConfigExport captures the immutable creation parameters.
func (m *Mine) ConfigExport() (resource string, rate int64, halving time.Duration, createdAt time.Time) {
	return m.cfg.Resource.ID(), m.cfg.InitialDailyRate, m.cfg.HalvingPeriod, m.cfg.CreatedAt
}
