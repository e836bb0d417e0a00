package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

// dbCmd queries the sqlite index directly, no server required.
func dbCmd() *cobra.Command {
	var (
		dataDir  string
		engineID string
		dbPath   string
		limit    int
		player   string
		mineID   string
	)
	c := &cobra.Command{
		Use:   "db {flows|battles|audits|snapshots}",
		Short: "Query the sqlite index offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(dbPath)
			if path == "" {
				path = filepath.Join(dataDir, "engines", engineID, "index", "warmines.sqlite")
			}
			db, err := sql.Open("sqlite", path)
			if err != nil {
				return err
			}
			defer db.Close()

			if limit <= 0 {
				limit = 50
			}

			switch strings.TrimSpace(args[0]) {
			case "flows":
				return queryFlows(db, player, mineID, limit)
			case "battles":
				return queryBattles(db, mineID, limit)
			case "audits":
				return queryAudits(db, player, limit)
			case "snapshots":
				return querySnapshots(db, limit)
			default:
				return fmt.Errorf("unknown query %q (want flows, battles, audits, or snapshots)", args[0])
			}
		},
	}
	c.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	c.Flags().StringVar(&engineID, "engine", "warmines", "engine id")
	c.Flags().StringVar(&dbPath, "db", "", "sqlite db path (overrides -data/-engine)")
	c.Flags().IntVar(&limit, "limit", 50, "result limit")
	c.Flags().StringVar(&player, "player", "", "player filter")
	c.Flags().StringVar(&mineID, "mine", "", "mine filter")
	return c
}

func queryFlows(db *sql.DB, player, mineID string, limit int) error {
	q := `SELECT kind,player,COALESCE(mine,''),COALESCE(asset,''),amount,returned,destroyed,at FROM flows`
	var conds []string
	var args []any
	if player != "" {
		conds = append(conds, "player=?")
		args = append(args, player)
	}
	if mineID != "" {
		conds = append(conds, "mine=?")
		args = append(args, mineID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"At", "Kind", "Player", "Mine", "Asset", "Amount", "Returned", "Destroyed"}),
	)
	for rows.Next() {
		var kind, p, m, asset, at string
		var amount, returned, destroyed int64
		if err := rows.Scan(&kind, &p, &m, &asset, &amount, &returned, &destroyed, &at); err != nil {
			return err
		}
		t.Append([]string{at, kind, p, m, asset, n(amount), n(returned), n(destroyed)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	t.Render()
	return nil
}

func queryBattles(db *sql.DB, mineID string, limit int) error {
	q := `SELECT mine,attacker,COALESCE(prev_owner,''),attacker_tier,attacker_force,defender_tier,defender_force,attacker_loss,defender_loss,attacker_won,at FROM battles`
	var args []any
	if mineID != "" {
		q += " WHERE mine=?"
		args = append(args, mineID)
	}
	q += " ORDER BY at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"At", "Mine", "Attacker", "Force", "Defender", "Force", "A.Loss", "D.Loss", "Result"}),
	)
	for rows.Next() {
		var mine, attacker, prev, at string
		var aTier, dTier, won int
		var aForce, dForce, aLoss, dLoss int64
		if err := rows.Scan(&mine, &attacker, &prev, &aTier, &aForce, &dTier, &dForce, &aLoss, &dLoss, &won, &at); err != nil {
			return err
		}
		if prev == "" {
			prev = "-"
		}
		result := "repelled"
		if won != 0 {
			result = "seized"
		}
		t.Append([]string{at, mine,
			fmt.Sprintf("%s (t%d)", attacker, aTier), n(aForce),
			fmt.Sprintf("%s (t%d)", prev, dTier), n(dForce),
			n(aLoss), n(dLoss), result})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	t.Render()
	return nil
}

func queryAudits(db *sql.DB, player string, limit int) error {
	q := `SELECT at,player,COALESCE(session,''),op,COALESCE(asset,''),COALESCE(mine,''),tier,amount,COALESCE(recipient,''),ok,COALESCE(code,'') FROM audits`
	var args []any
	if player != "" {
		q += " WHERE player=?"
		args = append(args, player)
	}
	q += " ORDER BY at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"At", "Player", "Session", "Op", "Asset", "Mine", "Tier", "Amount", "To", "OK", "Code"}),
	)
	for rows.Next() {
		var at, p, session, op, asset, mine, to, code string
		var tier, ok int
		var amount int64
		if err := rows.Scan(&at, &p, &session, &op, &asset, &mine, &tier, &amount, &to, &ok, &code); err != nil {
			return err
		}
		t.Append([]string{at, p, session, op, asset, mine,
			strconv.Itoa(tier), n(amount), to, strconv.FormatBool(ok != 0), code})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	t.Render()
	return nil
}

func querySnapshots(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT path,taken_at,catalog_digest,wallets,mines,paused FROM snapshots ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Taken", "Path", "Catalog", "Wallets", "Mines", "Paused"}),
	)
	for rows.Next() {
		var path, takenAt, digest string
		var wallets, mines, paused int
		if err := rows.Scan(&path, &takenAt, &digest, &wallets, &mines, &paused); err != nil {
			return err
		}
		t.Append([]string{takenAt, path, short(digest),
			strconv.Itoa(wallets), strconv.Itoa(mines), strconv.FormatBool(paused != 0)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	t.Render()
	return nil
}
