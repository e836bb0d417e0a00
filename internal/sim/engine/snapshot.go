package engine

import (
	"fmt"
	"time"

	"warmines.gg/internal/persistence/snapshot"
	"warmines.gg/internal/sim/bank"
	"warmines.gg/internal/sim/mine"
)

// Snapshot builds a consistent full-state snapshot on the engine goroutine.
func (e *Engine) Snapshot() snapshot.SnapshotV1 {
	var snap snapshot.SnapshotV1
	e.do(func() { snap = e.exportSnapshot(e.clock()) })
	return snap
}

func (e *Engine) exportSnapshot(now time.Time) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:  1,
			EngineID: e.cfg.ID,
			TakenAt:  now,
		},
		CatalogDigest: e.cats.Digest,
		Paused:        e.bank.Paused(),
		Custody:       e.bank.CustodyExport(),
	}

	for _, id := range e.assets.AssetIDs() {
		tok := e.toks[id]
		if tok == nil {
			continue
		}
		snap.Wallets = append(snap.Wallets, snapshot.WalletV1{
			AssetID:    id,
			Balances:   tok.Holders(),
			Allowances: tok.AllowancesExport(),
		})
	}

	for _, w := range e.bank.WindowsExport() {
		snap.Windows = append(snap.Windows, snapshot.WindowV1{
			Player: w.Player, Asset: w.Asset,
			Start: w.Start, Withdrawn: w.Withdrawn, Limit: w.Limit,
		})
	}

	for _, id := range e.mines.IDs() {
		m, err := e.mines.Get(id)
		if err != nil {
			continue
		}
		ex := m.ExportState()
		mv := snapshot.MineV1{
			ID:           ex.ID,
			Owner:        ex.Owner,
			DefenderTier: ex.DefenderTier,
			LastSeized:   ex.LastSeized,
			LastClaim:    ex.LastClaim,
			BoostExpiry:  ex.BoostExpiry,
		}
		for _, b := range ex.Battles {
			mv.Battles = append(mv.Battles, snapshot.BattleV1(b))
		}
		snap.Mines = append(snap.Mines, mv)
	}
	return snap
}

// RestoreSnapshot loads a previously exported snapshot. Must be called
// before Run; it bypasses the loop.
func (e *Engine) RestoreSnapshot(snap snapshot.SnapshotV1) error {
	if snap.CatalogDigest != "" && snap.CatalogDigest != e.cats.Digest {
		return fmt.Errorf("snapshot catalog digest %s does not match loaded catalog %s",
			snap.CatalogDigest, e.cats.Digest)
	}

	for _, w := range snap.Wallets {
		tok := e.toks[w.AssetID]
		if tok == nil {
			return fmt.Errorf("snapshot wallet for unknown asset %s", w.AssetID)
		}
		tok.Restore(w.Balances, w.Allowances)
	}

	windows := make([]bank.WindowExport, 0, len(snap.Windows))
	for _, w := range snap.Windows {
		windows = append(windows, bank.WindowExport{
			Player: w.Player, Asset: w.Asset,
			Start: w.Start, Withdrawn: w.Withdrawn, Limit: w.Limit,
		})
	}
	e.bank.Restore(snap.Custody, windows)

	for _, mv := range snap.Mines {
		m, err := e.mines.Get(mv.ID)
		if err != nil {
			return fmt.Errorf("snapshot mine %s not in catalog", mv.ID)
		}
		ex := mine.Export{
			ID:           mv.ID,
			Owner:        mv.Owner,
			DefenderTier: mv.DefenderTier,
			LastSeized:   mv.LastSeized,
			LastClaim:    mv.LastClaim,
			BoostExpiry:  mv.BoostExpiry,
		}
		for _, b := range mv.Battles {
			ex.Battles = append(ex.Battles, mine.BattleEntry(b))
		}
		m.RestoreState(ex)
	}

	if snap.Paused {
		if err := e.bank.Pause(e.cfg.AdminID); err != nil {
			return err
		}
	}
	return nil
}
