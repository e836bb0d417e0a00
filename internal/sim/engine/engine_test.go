package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/catalogs"
	"warmines.gg/internal/sim/tuning"
)

const testCatalogYAML = `anchor: gold
resources:
  - id: gold
    name: Gold
    burnable: true
  - id: iron
    name: Iron
    burnable: true
merc_tiers:
  - tier: 1
    id: merc_t1
    name: Militia
  - tier: 2
    id: merc_t2
    name: Soldiers
  - tier: 3
    id: merc_t3
    name: Veterans
mines:
  - id: iron_mine_1
    resource: iron
    daily_rate: 100
    halving_secs: 86400
`

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte(testCatalogYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, path string) (*Engine, *time.Time) {
	t.Helper()
	cats, err := catalogs.Load(path)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tune := tuning.Defaults()
	tune.RateLimitBps = 0 // most tests want unconstrained withdrawals
	e, err := New(Config{ID: "test", Tune: tune, Clock: func() time.Time { return now }}, cats)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, &now
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type session struct {
	ID       string
	PlayerID string
	Out      chan []byte
}

func joinPlayer(t *testing.T, e *Engine, name string) session {
	t.Helper()
	out := make(chan []byte, 32)
	resp := make(chan JoinResponse, 1)
	e.Join() <- JoinRequest{PlayerName: name, Out: out, Resp: resp}
	select {
	case r := <-resp:
		if r.Err != nil {
			t.Fatalf("join %s: %v", name, r.Err)
		}
		return session{ID: r.Welcome.SessionID, PlayerID: r.Welcome.PlayerID, Out: out}
	case <-time.After(2 * time.Second):
		t.Fatalf("join %s: timeout", name)
		return session{}
	}
}

func sendCmd(e *Engine, s session, cmd protocol.CmdMsg) {
	cmd.Type = protocol.TypeCmd
	cmd.ProtocolVersion = protocol.Version
	e.Inbox() <- ActionEnvelope{SessionID: s.ID, PlayerID: s.PlayerID, Cmd: cmd}
}

// waitEvent decodes EVENT messages from a session until one matches the
// given type (and ref, when non-empty).
func waitEvent(t *testing.T, s session, evType, ref string) protocol.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-s.Out:
			var msg protocol.EventMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("bad event message: %v", err)
			}
			for _, ev := range msg.Events {
				if ev["type"] != evType {
					continue
				}
				if ref != "" && ev["ref"] != ref {
					continue
				}
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s ref=%q", evType, ref)
		}
	}
}

func mustOK(t *testing.T, ev protocol.Event) {
	t.Helper()
	if ev["ok"] != true {
		t.Fatalf("expected ok result, got %v", ev)
	}
}

func mustFail(t *testing.T, ev protocol.Event, code string) {
	t.Helper()
	if ev["ok"] != false {
		t.Fatalf("expected failure %s, got %v", code, ev)
	}
	if ev["code"] != code {
		t.Fatalf("expected code %s, got %v", code, ev["code"])
	}
}

func TestJoinIssuesWelcome(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)

	out := make(chan []byte, 1)
	resp := make(chan JoinResponse, 1)
	e.Join() <- JoinRequest{PlayerName: "  Alice  ", Out: out, Resp: resp}
	r := <-resp
	if r.Err != nil {
		t.Fatalf("join: %v", r.Err)
	}
	if r.Welcome.PlayerID != "alice" {
		t.Fatalf("expected normalized player id alice, got %s", r.Welcome.PlayerID)
	}
	if r.Welcome.Params.AnchorAsset != "gold" {
		t.Fatalf("expected anchor gold, got %s", r.Welcome.Params.AnchorAsset)
	}
	if r.Welcome.Catalogs.Assets.Digest == "" || r.Welcome.Catalogs.Assets.Count != 5 {
		t.Fatalf("bad catalog digest ref: %+v", r.Welcome.Catalogs)
	}
}

func TestJoinRejectsReservedNames(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)

	for _, name := range []string{"bank", "furnace", "admin", "iron_mine_1", "!!!"} {
		resp := make(chan JoinResponse, 1)
		e.Join() <- JoinRequest{PlayerName: name, Resp: resp}
		r := <-resp
		if r.Err == nil {
			t.Fatalf("expected join %q to fail", name)
		}
	}
}

func TestDepositWithdrawOverProtocol(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	if err := e.Mint("alice", "gold", 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sendCmd(e, s, protocol.CmdMsg{ID: "c1", Op: protocol.OpApprove, Asset: "gold", Amount: 100})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "c1"))

	sendCmd(e, s, protocol.CmdMsg{ID: "c2", Op: protocol.OpDeposit, Asset: "gold", Amount: 100})
	ev := waitEvent(t, s, "ACTION_RESULT", "c2")
	mustOK(t, ev)
	if toInt64(ev["balance"]) != 100 {
		t.Fatalf("expected custody balance 100, got %v", ev["balance"])
	}

	sendCmd(e, s, protocol.CmdMsg{ID: "c3", Op: protocol.OpWithdraw, Asset: "gold", Amount: 100})
	ev = waitEvent(t, s, "ACTION_RESULT", "c3")
	mustOK(t, ev)
	if toInt64(ev["returned"]) != 50 {
		t.Fatalf("expected 50 returned after exit tax, got %v", ev["returned"])
	}

	bal := e.Balances("alice")
	if bal.Wallet["gold"] != 50 {
		t.Fatalf("expected wallet 50 after taxed withdrawal, got %d", bal.Wallet["gold"])
	}
	if bal.Custody["gold"] != 0 {
		t.Fatalf("expected empty custody, got %d", bal.Custody["gold"])
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return -1
	}
}

func TestSeizeBroadcastsBattle(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)
	att := joinPlayer(t, e, "alice")
	obs := joinPlayer(t, e, "bob")

	if err := e.Mint("alice", "merc_t1", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	sendCmd(e, att, protocol.CmdMsg{ID: "a1", Op: protocol.OpApprove, Asset: "merc_t1", Amount: 10})
	mustOK(t, waitEvent(t, att, "ACTION_RESULT", "a1"))
	sendCmd(e, att, protocol.CmdMsg{ID: "a2", Op: protocol.OpDeposit, Asset: "merc_t1", Amount: 10})
	mustOK(t, waitEvent(t, att, "ACTION_RESULT", "a2"))

	sendCmd(e, att, protocol.CmdMsg{ID: "a3", Op: protocol.OpSeize, Mine: "iron_mine_1", Tier: 1})
	res := waitEvent(t, att, "ACTION_RESULT", "a3")
	mustOK(t, res)
	if res["won"] != true {
		t.Fatalf("expected unclaimed capture to win, got %v", res)
	}

	battle := waitEvent(t, obs, "BATTLE", "")
	if battle["mine"] != "iron_mine_1" || battle["attacker"] != "alice" {
		t.Fatalf("unexpected battle broadcast: %v", battle)
	}

	snap, err := e.MineSnapshot("iron_mine_1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Owner != "alice" || snap.Defenders != 10 {
		t.Fatalf("expected alice garrison 10, got %+v", snap)
	}
}

func TestUnknownAssetMineAndOp(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	sendCmd(e, s, protocol.CmdMsg{ID: "x1", Op: protocol.OpDeposit, Asset: "mithril", Amount: 5})
	mustFail(t, waitEvent(t, s, "ACTION_RESULT", "x1"), protocol.ErrAssetUnknown)

	sendCmd(e, s, protocol.CmdMsg{ID: "x2", Op: protocol.OpSeize, Mine: "no_such_mine", Tier: 1})
	mustFail(t, waitEvent(t, s, "ACTION_RESULT", "x2"), protocol.ErrMineUnknown)

	sendCmd(e, s, protocol.CmdMsg{ID: "x3", Op: "DANCE"})
	mustFail(t, waitEvent(t, s, "ACTION_RESULT", "x3"), protocol.ErrBadRequest)
}

func TestPauseBlocksMutations(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	if err := e.Mint("alice", "gold", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	sendCmd(e, s, protocol.CmdMsg{ID: "p0", Op: protocol.OpApprove, Asset: "gold", Amount: 10})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "p0"))

	if err := e.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	sendCmd(e, s, protocol.CmdMsg{ID: "p1", Op: protocol.OpDeposit, Asset: "gold", Amount: 10})
	mustFail(t, waitEvent(t, s, "ACTION_RESULT", "p1"), protocol.ErrPaused)

	if err := e.Unpause(); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	sendCmd(e, s, protocol.CmdMsg{ID: "p2", Op: protocol.OpDeposit, Asset: "gold", Amount: 10})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "p2"))

	st := e.Status()
	if st.Paused || !st.Solvent {
		t.Fatalf("expected running solvent engine, got %+v", st)
	}
}

func TestClaimAfterAccrual(t *testing.T) {
	path := writeTestCatalog(t)
	e, now := newTestEngine(t, path)
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	if err := e.Mint("alice", "merc_t2", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	sendCmd(e, s, protocol.CmdMsg{ID: "c1", Op: protocol.OpApprove, Asset: "merc_t2", Amount: 10})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "c1"))
	sendCmd(e, s, protocol.CmdMsg{ID: "c2", Op: protocol.OpDeposit, Asset: "merc_t2", Amount: 10})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "c2"))
	sendCmd(e, s, protocol.CmdMsg{ID: "c3", Op: protocol.OpSeize, Mine: "iron_mine_1", Tier: 2})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "c3"))

	// One full day at the initial rate of 100/day.
	*now = now.Add(24 * time.Hour)
	sendCmd(e, s, protocol.CmdMsg{ID: "c4", Op: protocol.OpClaim, Mine: "iron_mine_1"})
	ev := waitEvent(t, s, "ACTION_RESULT", "c4")
	mustOK(t, ev)
	if toInt64(ev["amount"]) != 100 {
		t.Fatalf("expected 100 iron claimed, got %v", ev["amount"])
	}
	if ev["asset"] != "iron" {
		t.Fatalf("expected iron, got %v", ev["asset"])
	}

	bal := e.Balances("alice")
	if bal.Custody["iron"] != 100 {
		t.Fatalf("expected 100 iron in custody, got %d", bal.Custody["iron"])
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := writeTestCatalog(t)
	e, _ := newTestEngine(t, path)
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	if err := e.Mint("alice", "gold", 200); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := e.Mint("alice", "merc_t1", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	for i, cmd := range []protocol.CmdMsg{
		{Op: protocol.OpApprove, Asset: "gold", Amount: 200},
		{Op: protocol.OpApprove, Asset: "merc_t1", Amount: 10},
		{Op: protocol.OpDeposit, Asset: "gold", Amount: 150},
		{Op: protocol.OpDeposit, Asset: "merc_t1", Amount: 10},
		{Op: protocol.OpSeize, Mine: "iron_mine_1", Tier: 1},
	} {
		cmd.ID = string(rune('a' + i))
		sendCmd(e, s, cmd)
		mustOK(t, waitEvent(t, s, "ACTION_RESULT", cmd.ID))
	}

	snap := e.Snapshot()
	if snap.CatalogDigest == "" || len(snap.Wallets) == 0 {
		t.Fatalf("incomplete snapshot: %+v", snap.Header)
	}

	e2, _ := newTestEngine(t, path)
	if err := e2.RestoreSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	startEngine(t, e2)

	bal := e2.Balances("alice")
	if bal.Wallet["gold"] != 50 || bal.Custody["gold"] != 150 {
		t.Fatalf("gold not restored: %+v", bal)
	}
	msnap, err := e2.MineSnapshot("iron_mine_1")
	if err != nil {
		t.Fatalf("mine snapshot: %v", err)
	}
	if msnap.Owner != "alice" || msnap.Defenders != 10 {
		t.Fatalf("mine state not restored: %+v", msnap)
	}
	st := e2.Status()
	if !st.Solvent {
		t.Fatalf("restored engine insolvent: %+v", st)
	}
}

type recordingAudit struct {
	entries []AuditEntry
	done    chan struct{}
	want    int
}

func (r *recordingAudit) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	if len(r.entries) == r.want {
		close(r.done)
	}
	return nil
}

func TestAuditTrail(t *testing.T) {
	e, _ := newTestEngine(t, writeTestCatalog(t))
	audit := &recordingAudit{done: make(chan struct{}), want: 2}
	e.SetAuditLogger(audit)
	startEngine(t, e)
	s := joinPlayer(t, e, "alice")

	if err := e.Mint("alice", "gold", 5); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Funded but not approved, so the deposit fails on the allowance alone.
	sendCmd(e, s, protocol.CmdMsg{ID: "a1", Op: protocol.OpDeposit, Asset: "gold", Amount: 5})
	mustFail(t, waitEvent(t, s, "ACTION_RESULT", "a1"), protocol.ErrInsufficientAuth)

	sendCmd(e, s, protocol.CmdMsg{ID: "a2", Op: protocol.OpApprove, Asset: "gold", Amount: 5})
	mustOK(t, waitEvent(t, s, "ACTION_RESULT", "a2"))

	select {
	case <-audit.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("audit entries not written")
	}
	if audit.entries[0].Code != protocol.ErrInsufficientAuth || audit.entries[0].OK {
		t.Fatalf("first entry should record the failure: %+v", audit.entries[0])
	}
	if !audit.entries[1].OK || audit.entries[1].Op != protocol.OpApprove {
		t.Fatalf("second entry should record the approve: %+v", audit.entries[1])
	}
}
