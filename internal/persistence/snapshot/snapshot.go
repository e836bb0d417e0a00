package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version  int       `json:"version"`
	EngineID string    `json:"engine_id"`
	TakenAt  time.Time `json:"taken_at"`
}

// SnapshotV1 captures the full economic state: wallet balances and
// allowances per asset, bank custody and withdrawal windows, and each
// mine's ownership and battle history. Static catalog and tuning data is
// not stored; restore requires the same config files the snapshot was
// taken under, checked via the catalog digest.
type SnapshotV1 struct {
	Header Header `json:"header"`

	CatalogDigest string `json:"catalog_digest"`
	Paused        bool   `json:"paused"`

	Wallets []WalletV1 `json:"wallets"`

	Custody map[string]map[string]int64 `json:"custody"`
	Windows []WindowV1                  `json:"windows,omitempty"`

	Mines []MineV1 `json:"mines"`
}

type WalletV1 struct {
	AssetID    string                      `json:"asset_id"`
	Balances   map[string]int64            `json:"balances"`
	Allowances map[string]map[string]int64 `json:"allowances,omitempty"`
}

type WindowV1 struct {
	Player    string    `json:"player"`
	Asset     string    `json:"asset"`
	Start     time.Time `json:"start"`
	Withdrawn int64     `json:"withdrawn"`
	Limit     int64     `json:"limit"`
}

type MineV1 struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner,omitempty"`
	DefenderTier int        `json:"defender_tier,omitempty"`
	LastSeized   time.Time  `json:"last_seized"`
	LastClaim    time.Time  `json:"last_claim"`
	BoostExpiry  time.Time  `json:"boost_expiry,omitempty"`
	Battles      []BattleV1 `json:"battles,omitempty"`
}

type BattleV1 struct {
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

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries the full struct.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
