package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	baseURL    string
	adminToken string
	asJSON     bool
)

func main() {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Warmines operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")
	root.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("WARMINES_ADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "raw json output")

	root.AddCommand(statusCmd(), minesCmd(), battlesCmd(), balancesCmd(),
		pauseCmd(), unpauseCmd(), mintCmd(), dbCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine health, held vs custodial totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st struct {
				EngineID      string           `json:"engine_id"`
				Paused        bool             `json:"paused"`
				Solvent       bool             `json:"solvent"`
				CatalogDigest string           `json:"catalog_digest"`
				Anchor        string           `json:"anchor"`
				Held          map[string]int64 `json:"held"`
				Custody       map[string]int64 `json:"custody_totals"`
				Sessions      int              `json:"sessions"`
			}
			if err := getJSON("/api/status", &st); err != nil {
				return err
			}
			if asJSON {
				return printJSON(st)
			}
			fmt.Printf("engine=%s paused=%v solvent=%v sessions=%d catalog=%s\n",
				st.EngineID, st.Paused, st.Solvent, st.Sessions, short(st.CatalogDigest))

			assets := make([]string, 0, len(st.Held))
			for id := range st.Held {
				assets = append(assets, id)
			}
			sort.Strings(assets)

			t := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Asset", "Held", "Custody", "Margin"}),
			)
			for _, id := range assets {
				held, custody := st.Held[id], st.Custody[id]
				name := id
				if id == st.Anchor {
					name += " (anchor)"
				}
				t.Append([]string{name, n(held), n(custody), n(held - custody)})
			}
			t.Render()
			return nil
		},
	}
}

func minesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mines",
		Short: "List mine sites with owners and production",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mines []struct {
				ID          string `json:"id"`
				Resource    string `json:"resource"`
				Owner       string `json:"owner"`
				Tier        int    `json:"defender_tier"`
				Defenders   int64  `json:"defenders"`
				CurrentRate int64  `json:"current_rate"`
				Accumulated int64  `json:"accumulated"`
				BoostActive bool   `json:"boost_active"`
				Battles     int    `json:"battles"`
			}
			if err := getJSON("/api/mines", &mines); err != nil {
				return err
			}
			if asJSON {
				return printJSON(mines)
			}
			t := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Mine", "Resource", "Owner", "Tier", "Defenders", "Rate/day", "Accumulated", "Boost", "Battles"}),
			)
			for _, m := range mines {
				owner := m.Owner
				if owner == "" {
					owner = "-"
				}
				boost := ""
				if m.BoostActive {
					boost = "x2"
				}
				t.Append([]string{m.ID, m.Resource, owner, strconv.Itoa(m.Tier),
					n(m.Defenders), n(m.CurrentRate), n(m.Accumulated), boost, strconv.Itoa(m.Battles)})
			}
			t.Render()
			return nil
		},
	}
}

func battlesCmd() *cobra.Command {
	var offset, limit int
	c := &cobra.Command{
		Use:   "battles MINE",
		Short: "Show a mine's battle log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var page struct {
				Entries []struct {
					Attacker      string    `json:"attacker"`
					PrevOwner     string    `json:"prev_owner"`
					AttackerTier  int       `json:"attacker_tier"`
					AttackerForce int64     `json:"attacker_force"`
					DefenderTier  int       `json:"defender_tier"`
					DefenderForce int64     `json:"defender_force"`
					AttackerLoss  int64     `json:"attacker_loss"`
					DefenderLoss  int64     `json:"defender_loss"`
					AttackerWon   bool      `json:"attacker_won"`
					At            time.Time `json:"at"`
				} `json:"entries"`
				Total int `json:"total"`
			}
			path := fmt.Sprintf("/api/mines/%s/battles?offset=%d&limit=%d", args[0], offset, limit)
			if err := getJSON(path, &page); err != nil {
				return err
			}
			if asJSON {
				return printJSON(page)
			}
			t := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"At", "Attacker", "Force", "Defender", "Force", "A.Loss", "D.Loss", "Result"}),
			)
			for _, b := range page.Entries {
				def := b.PrevOwner
				if def == "" {
					def = "-"
				}
				result := "repelled"
				if b.AttackerWon {
					result = "seized"
				}
				t.Append([]string{
					b.At.UTC().Format(time.RFC3339),
					fmt.Sprintf("%s (t%d)", b.Attacker, b.AttackerTier), n(b.AttackerForce),
					fmt.Sprintf("%s (t%d)", def, b.DefenderTier), n(b.DefenderForce),
					n(b.AttackerLoss), n(b.DefenderLoss), result,
				})
			}
			t.Render()
			fmt.Printf("%d of %d battles\n", len(page.Entries), page.Total)
			return nil
		},
	}
	c.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	c.Flags().IntVar(&limit, "limit", 20, "max entries")
	return c
}

func balancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances PLAYER",
		Short: "Show a player's wallet and custodial balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b struct {
				Player  string           `json:"player"`
				Wallet  map[string]int64 `json:"wallet"`
				Custody map[string]int64 `json:"custody"`
			}
			if err := getJSON("/api/players/"+args[0]+"/balances", &b); err != nil {
				return err
			}
			if asJSON {
				return printJSON(b)
			}
			seen := map[string]bool{}
			var assets []string
			for id := range b.Wallet {
				seen[id] = true
				assets = append(assets, id)
			}
			for id := range b.Custody {
				if !seen[id] {
					assets = append(assets, id)
				}
			}
			sort.Strings(assets)
			t := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Asset", "Wallet", "Custody"}),
			)
			for _, id := range assets {
				t.Append([]string{id, n(b.Wallet[id]), n(b.Custody[id])})
			}
			t.Render()
			return nil
		},
	}
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Trip the circuit breaker; all mutating ops fail until unpause",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin("/admin/pause", nil)
		},
	}
}

func unpauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpause",
		Short: "Clear the circuit breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin("/admin/unpause", nil)
		},
	}
}

func mintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint PLAYER ASSET AMOUNT",
		Short: "Issue wallet supply to a player",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad amount %q: %w", args[2], err)
			}
			return postAdmin("/admin/mint", map[string]any{
				"to": args[0], "asset": args[1], "amount": amount,
			})
		},
	}
}

func getJSON(path string, out any) error {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return httpError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func postAdmin(path string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, body)
	if err != nil {
		return err
	}
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return httpError(resp.StatusCode, b)
	}
	fmt.Println(string(bytes.TrimSpace(b)))
	return nil
}

func httpError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
		Msg   string `json:"msg"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", e.Error, e.Msg)
	}
	return fmt.Errorf("http %d: %s", status, bytes.TrimSpace(body))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func n(v int64) string { return strconv.FormatInt(v, 10) }

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
