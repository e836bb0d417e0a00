package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"warmines.gg/internal/persistence/snapshot"
	"warmines.gg/internal/telemetry"
)

// Offline verifier: checks a snapshot's custodial solvency and cross-checks
// it against the flow and battle streams written alongside it.
func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to snapshot .zst (defaults to latest under -data)")
		dataDir   = flag.String("data", "./data", "runtime data directory")
		engineID  = flag.String("engine", "warmines", "engine id")
		withFlows = flag.Bool("flows", true, "summarize the flow and battle streams")
	)
	flag.Parse()

	engineDir := filepath.Join(*dataDir, "engines", *engineID)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(engineDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run the server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d engine=%s taken=%s catalog=%s wallets=%d mines=%d paused=%v\n",
		snap.Header.Version, snap.Header.EngineID,
		snap.Header.TakenAt.UTC().Format(time.RFC3339),
		short(snap.CatalogDigest), len(snap.Wallets), len(snap.Mines), snap.Paused)

	if !verifySolvency(snap) {
		os.Exit(1)
	}

	if !*withFlows {
		return
	}
	if err := summarizeFlows(engineDir, snap.Header.TakenAt); err != nil {
		fmt.Fprintln(os.Stderr, "flows:", err)
		os.Exit(1)
	}
	if err := summarizeBattles(engineDir, snap.Header.TakenAt); err != nil {
		fmt.Fprintln(os.Stderr, "battles:", err)
		os.Exit(1)
	}
}

// verifySolvency checks held >= total custody per asset using only the
// snapshot itself. "bank" is the custodial account id the engine uses.
func verifySolvency(snap snapshot.SnapshotV1) bool {
	held := map[string]int64{}
	for _, w := range snap.Wallets {
		held[w.AssetID] = w.Balances["bank"]
	}

	ok := true
	assets := make([]string, 0, len(snap.Custody))
	for id := range snap.Custody {
		assets = append(assets, id)
	}
	sort.Strings(assets)

	for _, id := range assets {
		var total int64
		for _, v := range snap.Custody[id] {
			total += v
		}
		h := held[id]
		state := "ok"
		if h < total {
			state = "INSOLVENT"
			ok = false
		}
		fmt.Printf("  %-16s held=%-12d custody=%-12d %s\n", id, h, total, state)
	}
	if ok {
		fmt.Println("solvency ok")
	} else {
		fmt.Println("solvency FAILED: held is below total custody")
	}
	return ok
}

type taggedFlow struct {
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event"`
}

func summarizeFlows(engineDir string, until time.Time) error {
	files, err := listLogFiles(filepath.Join(engineDir, "flows"), "flows-")
	if err != nil || len(files) == 0 {
		return err
	}

	counts := map[string]int{}
	deposited := map[string]int64{}
	withdrawn := map[string]int64{}
	burned := map[string]int64{}
	claimed := map[string]int64{}

	for _, path := range files {
		err := scanJSONL(path, func(line []byte) error {
			var t taggedFlow
			if err := json.Unmarshal(line, &t); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			counts[t.Kind]++
			switch t.Kind {
			case "deposit":
				var e telemetry.DepositEvent
				if err := json.Unmarshal(t.Event, &e); err == nil && !e.At.After(until) {
					deposited[e.Asset] += e.Amount
				}
			case "withdraw":
				var e telemetry.WithdrawEvent
				if err := json.Unmarshal(t.Event, &e); err == nil && !e.At.After(until) {
					withdrawn[e.Asset] += e.Returned
					burned[e.Asset] += e.Burned
				}
			case "claim":
				var e telemetry.ClaimEvent
				if err := json.Unmarshal(t.Event, &e); err == nil && !e.At.After(until) {
					claimed[e.Asset] += e.Amount
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Print("flows:")
	for _, k := range kinds {
		fmt.Printf(" %s=%d", k, counts[k])
	}
	fmt.Println()

	assets := map[string]bool{}
	for id := range deposited {
		assets[id] = true
	}
	for id := range withdrawn {
		assets[id] = true
	}
	for id := range claimed {
		assets[id] = true
	}
	ids := make([]string, 0, len(assets))
	for id := range assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %-16s deposited=%d withdrawn=%d burned=%d claimed=%d\n",
			id, deposited[id], withdrawn[id], burned[id], claimed[id])
	}
	return nil
}

func summarizeBattles(engineDir string, until time.Time) error {
	files, err := listLogFiles(filepath.Join(engineDir, "battles"), "battles-")
	if err != nil || len(files) == 0 {
		return err
	}

	var total, seizures int
	var attLoss, defLoss int64
	perMine := map[string]int{}

	for _, path := range files {
		err := scanJSONL(path, func(line []byte) error {
			var t struct {
				Event telemetry.BattleEvent `json:"event"`
			}
			if err := json.Unmarshal(line, &t); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			if t.Event.At.After(until) {
				return nil
			}
			total++
			if t.Event.AttackerWon {
				seizures++
			}
			attLoss += t.Event.AttackerLoss
			defLoss += t.Event.DefenderLoss
			perMine[t.Event.Mine]++
			return nil
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("battles: total=%d seizures=%d attacker_losses=%d defender_losses=%d\n",
		total, seizures, attLoss, defLoss)
	mines := make([]string, 0, len(perMine))
	for id := range perMine {
		mines = append(mines, id)
	}
	sort.Strings(mines)
	for _, id := range mines {
		fmt.Printf("  %-16s battles=%d\n", id, perMine[id])
	}
	return nil
}

func listLogFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func latestSnapshot(engineDir string) string {
	dir := filepath.Join(engineDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snap-") && strings.HasSuffix(e.Name(), ".zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
