package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"warmines.gg/internal/sim/token"
)

// Catalogs holds the static asset and site definitions loaded at boot.
// The digest is computed over the raw file bytes so clients can detect
// a catalog mismatch during the handshake.
type Catalogs struct {
	Anchor    string        `yaml:"anchor"`
	Resources []ResourceDef `yaml:"resources"`
	MercTiers []MercTierDef `yaml:"merc_tiers"`
	Mines     []MineSiteDef `yaml:"mines"`

	ByResource map[string]ResourceDef `yaml:"-"`
	ByTier     map[int]MercTierDef    `yaml:"-"`
	ByMine     map[string]MineSiteDef `yaml:"-"`

	Digest string `yaml:"-"`
}

type ResourceDef struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Burnable bool   `yaml:"burnable"`
}

type MercTierDef struct {
	Tier int    `yaml:"tier"`
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type MineSiteDef struct {
	ID          string `yaml:"id"`
	Resource    string `yaml:"resource"`
	DailyRate   int64  `yaml:"daily_rate"`
	HalvingSecs int64  `yaml:"halving_secs"`
}

func Load(path string) (*Catalogs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Catalogs
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalogs %s: %w", path, err)
	}
	c.Digest = sha256Hex(raw)
	if err := c.index(); err != nil {
		return nil, fmt.Errorf("catalogs %s: %w", path, err)
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalogs) index() error {
	if c.Anchor == "" {
		return fmt.Errorf("missing anchor asset")
	}
	if len(c.Resources) == 0 {
		return fmt.Errorf("no resources defined")
	}
	c.ByResource = make(map[string]ResourceDef, len(c.Resources))
	for _, r := range c.Resources {
		if r.ID == "" {
			return fmt.Errorf("resource with empty id")
		}
		if _, dup := c.ByResource[r.ID]; dup {
			return fmt.Errorf("duplicate resource %q", r.ID)
		}
		c.ByResource[r.ID] = r
	}
	if _, ok := c.ByResource[c.Anchor]; !ok {
		return fmt.Errorf("anchor %q not in resources", c.Anchor)
	}
	if len(c.MercTiers) == 0 {
		return fmt.Errorf("no merc tiers defined")
	}
	c.ByTier = make(map[int]MercTierDef, len(c.MercTiers))
	seen := map[string]bool{}
	for _, t := range c.MercTiers {
		if t.Tier < 1 {
			return fmt.Errorf("merc tier %q: tier must be >= 1", t.ID)
		}
		if t.ID == "" {
			return fmt.Errorf("merc tier %d: empty id", t.Tier)
		}
		if _, dup := c.ByTier[t.Tier]; dup {
			return fmt.Errorf("duplicate merc tier %d", t.Tier)
		}
		if seen[t.ID] || c.ByResource[t.ID].ID != "" {
			return fmt.Errorf("merc tier asset %q collides with another asset", t.ID)
		}
		seen[t.ID] = true
		c.ByTier[t.Tier] = t
	}
	c.ByMine = make(map[string]MineSiteDef, len(c.Mines))
	for _, m := range c.Mines {
		if m.ID == "" {
			return fmt.Errorf("mine with empty id")
		}
		if _, dup := c.ByMine[m.ID]; dup {
			return fmt.Errorf("duplicate mine %q", m.ID)
		}
		if _, ok := c.ByResource[m.Resource]; !ok {
			return fmt.Errorf("mine %q: unknown resource %q", m.ID, m.Resource)
		}
		if m.DailyRate <= 0 {
			return fmt.Errorf("mine %q: daily_rate must be positive", m.ID)
		}
		if m.HalvingSecs <= 0 {
			return fmt.Errorf("mine %q: halving_secs must be positive", m.ID)
		}
		c.ByMine[m.ID] = m
	}
	return nil
}

// Tiers returns the defined merc tiers in ascending order.
func (c *Catalogs) Tiers() []MercTierDef {
	out := make([]MercTierDef, 0, len(c.ByTier))
	for _, t := range c.ByTier {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// BuildAssets instantiates the ledger tokens described by the catalog and
// registers them with a fresh token registry. Merc tier assets are always
// burnable since combat destroys them.
func (c *Catalogs) BuildAssets() (*token.Registry, map[string]*token.Token, error) {
	reg := token.NewRegistry()
	toks := make(map[string]*token.Token)
	for _, r := range c.Resources {
		tok := token.New(r.ID, r.Burnable)
		if err := reg.RegisterResource(tok); err != nil {
			return nil, nil, err
		}
		toks[r.ID] = tok
	}
	if err := reg.SetAnchor(c.Anchor); err != nil {
		return nil, nil, err
	}
	for _, t := range c.MercTiers {
		tok := token.New(t.ID, true)
		if err := reg.RegisterTier(t.Tier, tok); err != nil {
			return nil, nil, err
		}
		toks[t.ID] = tok
	}
	ids := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		ids = append(ids, r.ID)
	}
	if err := reg.ValidateResources(ids); err != nil {
		return nil, nil, err
	}
	return reg, toks, nil
}
