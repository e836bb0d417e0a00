package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/catalogs"
	"warmines.gg/internal/sim/engine"
	"warmines.gg/internal/sim/tuning"
)

const wsTestCatalog = `
anchor: gold
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
mines:
  - id: iron_mine_north
    resource: iron
    daily_rate: 100
    halving_secs: 86400
`

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	catPath := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(catPath, []byte(wsTestCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cats, err := catalogs.Load(catPath)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	tune := tuning.Defaults()
	tune.SnapshotEverySecs = 0
	eng, err := engine.New(engine.Config{ID: "wstest", Tune: tune}, cats)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	schemas, err := protocol.LoadSchemas(filepath.Join("..", "..", "..", "schemas"))
	if err != nil {
		t.Fatalf("load schemas: %v", err)
	}
	logger := log.New(os.Stderr, "[ws-test] ", 0)
	srv := httptest.NewServer(NewServer(eng, schemas, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandshakeWelcome(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      "Alice",
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("send HELLO: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		t.Fatalf("decode WELCOME: %v", err)
	}
	if w.Type != protocol.TypeWelcome {
		t.Fatalf("type=%q", w.Type)
	}
	if w.PlayerID != "alice" {
		t.Fatalf("player_id=%q", w.PlayerID)
	}
	if w.Params.AnchorAsset != "gold" {
		t.Fatalf("anchor=%q", w.Params.AnchorAsset)
	}
	if w.Catalogs.Assets.Digest == "" {
		t.Fatalf("missing catalog digest")
	}
}

func TestHandshakeRejectsNonHello(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	cmd := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "c1",
		Op:              protocol.OpClaim,
		Mine:            "iron_mine_north",
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("send CMD: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close before WELCOME")
	}
}

func TestCmdRoundTrip(t *testing.T) {
	srv, eng := newTestServer(t)
	conn := dial(t, srv)

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      "bob",
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("send HELLO: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}

	if err := eng.Mint("bob", "gold", 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	approve := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "c1",
		Op:              protocol.OpApprove,
		Asset:           "gold",
		Amount:          100,
	}
	if err := conn.WriteJSON(approve); err != nil {
		t.Fatalf("send APPROVE: %v", err)
	}

	deposit := approve
	deposit.ID = "c2"
	deposit.Op = protocol.OpDeposit
	if err := conn.WriteJSON(deposit); err != nil {
		t.Fatalf("send DEPOSIT: %v", err)
	}

	// Wait for the c2 result.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read events: %v", err)
		}
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		for _, e := range ev.Events {
			if e["type"] != "ACTION_RESULT" || e["ref"] != "c2" {
				continue
			}
			if e["ok"] != true {
				t.Fatalf("deposit failed: %v", e)
			}
			b := eng.Balances("bob")
			if b.Custody["gold"] != 100 {
				t.Fatalf("custody=%d", b.Custody["gold"])
			}
			return
		}
	}
}

func TestSchemaRejectedCmdIsIgnored(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      "carol",
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("send HELLO: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}

	// Bad op fails schema validation and produces no result.
	bad := []byte(`{"type":"CMD","protocol_version":"1.0","id":"x1","op":"STEAL"}`)
	if err := conn.WriteMessage(websocket.TextMessage, bad); err != nil {
		t.Fatalf("send bad CMD: %v", err)
	}
	good := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "x2",
		Op:              protocol.OpClaim,
		Mine:            "iron_mine_north",
	}
	if err := conn.WriteJSON(good); err != nil {
		t.Fatalf("send CMD: %v", err)
	}

	// The first result we see must be for x2; x1 never reached the engine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read events: %v", err)
		}
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		for _, e := range ev.Events {
			if e["type"] != "ACTION_RESULT" {
				continue
			}
			if e["ref"] == "x1" {
				t.Fatalf("rejected command reached the engine")
			}
			if e["ref"] == "x2" {
				return
			}
		}
	}
}
