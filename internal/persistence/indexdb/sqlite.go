package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"warmines.gg/internal/persistence/snapshot"
	"warmines.gg/internal/sim/catalogs"
	"warmines.gg/internal/sim/engine"
	"warmines.gg/internal/sim/tuning"
	"warmines.gg/internal/telemetry"
)

// SQLiteIndex is a queryable secondary index over the flow, battle, and
// audit streams. Writes go through a buffered channel into a single writer
// goroutine; when the buffer is full entries are dropped, the JSONL logs
// remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqFlow reqKind = iota + 1
	reqBattle
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	flow     flowRow
	battle   telemetry.BattleEvent
	audit    engine.AuditEntry
	snapshot snapshotRow
}

type flowRow struct {
	Kind      string
	Player    string
	Mine      string
	Asset     string
	Amount    int64
	Returned  int64
	Destroyed int64
	At        time.Time
}

type snapshotRow struct {
	Path    string
	TakenAt time.Time
	Digest  string
	Wallets int
	Mines   int
	Paused  bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads. NORMAL is a decent
	// durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			player TEXT NOT NULL,
			mine TEXT,
			asset TEXT,
			amount INTEGER NOT NULL,
			returned INTEGER NOT NULL,
			destroyed INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flows_player_at ON flows(player, at);`,
		`CREATE INDEX IF NOT EXISTS idx_flows_kind_at ON flows(kind, at);`,
		`CREATE TABLE IF NOT EXISTS battles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mine TEXT NOT NULL,
			attacker TEXT NOT NULL,
			prev_owner TEXT,
			attacker_tier INTEGER NOT NULL,
			attacker_force INTEGER NOT NULL,
			defender_tier INTEGER NOT NULL,
			defender_force INTEGER NOT NULL,
			attacker_power INTEGER NOT NULL,
			defender_power INTEGER NOT NULL,
			attacker_loss INTEGER NOT NULL,
			defender_loss INTEGER NOT NULL,
			attacker_won INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_mine_at ON battles(mine, at);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_attacker_at ON battles(attacker, at);`,
		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player TEXT NOT NULL,
			session TEXT,
			op TEXT NOT NULL,
			ref TEXT,
			asset TEXT,
			mine TEXT,
			tier INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			recipient TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_player_at ON audits(player, at);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			taken_at TEXT NOT NULL,
			catalog_digest TEXT NOT NULL,
			wallets INTEGER NOT NULL,
			mines INTEGER NOT NULL,
			paused INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
	}
}

var _ telemetry.Recorder = (*SQLiteIndex)(nil)

func (s *SQLiteIndex) RecordDeposit(e telemetry.DepositEvent) error {
	s.enqueue(req{kind: reqFlow, flow: flowRow{
		Kind: "deposit", Player: e.Player, Asset: e.Asset, Amount: e.Amount, At: e.At,
	}})
	return nil
}

func (s *SQLiteIndex) RecordWithdraw(e telemetry.WithdrawEvent) error {
	s.enqueue(req{kind: reqFlow, flow: flowRow{
		Kind: "withdraw", Player: e.Player, Asset: e.Asset,
		Amount: e.Amount, Returned: e.Returned, Destroyed: e.Burned, At: e.At,
	}})
	return nil
}

func (s *SQLiteIndex) RecordBattle(e telemetry.BattleEvent) error {
	s.enqueue(req{kind: reqBattle, battle: e})
	return nil
}

func (s *SQLiteIndex) RecordClaim(e telemetry.ClaimEvent) error {
	s.enqueue(req{kind: reqFlow, flow: flowRow{
		Kind: "claim", Player: e.Owner, Mine: e.Mine, Asset: e.Asset, Amount: e.Amount, At: e.At,
	}})
	return nil
}

func (s *SQLiteIndex) RecordBoost(e telemetry.BoostEvent) error {
	s.enqueue(req{kind: reqFlow, flow: flowRow{
		Kind: "boost", Player: e.Owner, Mine: e.Mine, Amount: e.Cost, At: e.At,
	}})
	return nil
}

func (s *SQLiteIndex) RecordAbandon(e telemetry.AbandonEvent) error {
	s.enqueue(req{kind: reqFlow, flow: flowRow{
		Kind: "abandon", Player: e.Owner, Mine: e.Mine,
		Amount: e.Returned + e.Destroyed, Returned: e.Returned, Destroyed: e.Destroyed, At: e.At,
	}})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry engine.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Path:    path,
		TakenAt: snap.Header.TakenAt,
		Digest:  snap.CatalogDigest,
		Wallets: len(snap.Wallets),
		Mines:   len(snap.Mines),
		Paused:  snap.Paused,
	}})
}

// UpsertCatalogs stores the asset catalog and the applied tuning so the
// index is self-describing. Synchronous; call at startup.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type row struct {
		name   string
		digest string
		json   []byte
	}
	var rows []row
	if b, _ := json.Marshal(cats); len(b) > 0 {
		rows = append(rows, row{name: "assets", digest: cats.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, row{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFlow, _ := s.db.Prepare(`INSERT INTO flows(kind,player,mine,asset,amount,returned,destroyed,at) VALUES(?,?,?,?,?,?,?,?)`)
	insertBattle, _ := s.db.Prepare(`INSERT INTO battles(mine,attacker,prev_owner,attacker_tier,attacker_force,defender_tier,defender_force,attacker_power,defender_power,attacker_loss,defender_loss,attacker_won,at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(player,session,op,ref,asset,mine,tier,amount,recipient,ok,code,at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,taken_at,catalog_digest,wallets,mines,paused) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFlow, insertBattle, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ts := func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFlow:
			f := r.flow
			if insertFlow != nil {
				if _, err := tx.Stmt(insertFlow).Exec(
					f.Kind, f.Player, f.Mine, f.Asset,
					f.Amount, f.Returned, f.Destroyed, ts(f.At),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqBattle:
			b := r.battle
			if insertBattle != nil {
				if _, err := tx.Stmt(insertBattle).Exec(
					b.Mine, b.Attacker, b.PrevOwner,
					b.AttackerTier, b.AttackerForce,
					b.DefenderTier, b.DefenderForce,
					b.AttackerPower, b.DefenderPower,
					b.AttackerLoss, b.DefenderLoss,
					boolToInt(b.AttackerWon), ts(b.At),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqAudit:
			a := r.audit
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					a.Player, a.Session, a.Op, a.Ref, a.Asset, a.Mine,
					a.Tier, a.Amount, a.To, boolToInt(a.OK), a.Code, ts(a.At),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.Path, ts(sn.TakenAt), sn.Digest,
					sn.Wallets, sn.Mines, boolToInt(sn.Paused),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
