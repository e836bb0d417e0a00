package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"warmines.gg/internal/protocol"
)

// A scripted player: deposits its wallet into the bank, garrisons mines, and
// claims production. Useful for smoke tests and load generation; fund it
// first with `admin mint`.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		interval = flag.Duration("interval", 2*time.Second, "time between commands")
		force    = flag.Int64("force", 10, "mercenaries per seize attempt")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		logger.Fatalf("decode WELCOME: %v", err)
	}
	logger.Printf("WELCOME player=%s session=%s anchor=%s min_mercs=%d",
		w.PlayerID, w.SessionID, w.Params.AnchorAsset, w.Params.MinMercs)

	mines, tiers := discover(logger, *url)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	events := make(chan []byte, 64)
	go func() {
		defer close(events)
		for {
			_, m, err := conn.ReadMessage()
			if err != nil {
				return
			}
			events <- m
		}
	}()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var seq int
	next := func(op string) protocol.CmdMsg {
		seq++
		return protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			ID:              fmt.Sprintf("%s_%d", op, seq),
			Op:              op,
		}
	}

	// Move the whole wallet into custody first; everything else needs it.
	approve := next(protocol.OpApprove)
	approve.Asset = w.Params.AnchorAsset
	approve.Amount = 1 << 40
	_ = conn.WriteJSON(approve)

	deposit := next(protocol.OpDeposit)
	deposit.Asset = w.Params.AnchorAsset
	deposit.Amount = 1000
	_ = conn.WriteJSON(deposit)

	for {
		select {
		case <-stop:
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			report(logger, m)
		case <-ticker.C:
			if len(mines) == 0 {
				continue
			}
			mine := mines[r.Intn(len(mines))]
			switch r.Intn(4) {
			case 0, 1:
				cmd := next(protocol.OpSeize)
				cmd.Mine = mine
				cmd.Amount = *force
				if len(tiers) > 0 {
					cmd.Tier = tiers[r.Intn(len(tiers))]
				} else {
					cmd.Tier = 1
				}
				_ = conn.WriteJSON(cmd)
			case 2:
				cmd := next(protocol.OpClaim)
				cmd.Mine = mine
				_ = conn.WriteJSON(cmd)
			case 3:
				cmd := next(protocol.OpBoost)
				cmd.Mine = mine
				_ = conn.WriteJSON(cmd)
			}
		}
	}
}

func report(logger *log.Logger, raw []byte) {
	var ev protocol.EventMsg
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	for _, e := range ev.Events {
		switch e["type"] {
		case "ACTION_RESULT":
			if e["ok"] == true {
				logger.Printf("ok %v", e["ref"])
			} else {
				logger.Printf("fail %v code=%v msg=%v", e["ref"], e["code"], e["msg"])
			}
		case "BATTLE":
			logger.Printf("battle mine=%v attacker=%v won=%v", e["mine"], e["attacker"], e["attacker_won"])
		}
	}
}

// discover lists mine ids over the read api next to the ws endpoint.
// Falls back to empty on any error; the bot then idles.
func discover(logger *log.Logger, wsURL string) (mines []string, tiers []int) {
	base := wsURL
	for _, p := range []struct{ from, to string }{
		{"ws://", "http://"}, {"wss://", "https://"},
	} {
		if len(base) >= len(p.from) && base[:len(p.from)] == p.from {
			base = p.to + base[len(p.from):]
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[:i]
			break
		}
	}

	var snaps []struct {
		ID string `json:"id"`
	}
	if err := fetchJSON(base+"/api/mines", &snaps); err != nil {
		logger.Printf("discover mines: %v", err)
		return nil, nil
	}
	for _, s := range snaps {
		mines = append(mines, s.ID)
	}
	tiers = []int{1, 2, 3}
	return mines, tiers
}

func fetchJSON(url string, out any) error {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
