package token

import (
	"fmt"
	"sort"

	"warmines.gg/internal/protocol"
)

// Registry resolves asset IDs, the anchor currency, registered resources,
// and the merc tier -> asset mapping.
type Registry struct {
	assets    map[string]Asset
	resources map[string]bool
	anchor    string
	tiers     map[int]string // tier -> asset id; power per unit == tier
}

func NewRegistry() *Registry {
	return &Registry{
		assets:    map[string]Asset{},
		resources: map[string]bool{},
		tiers:     map[int]string{},
	}
}

func (r *Registry) Register(a Asset) error {
	id := a.ID()
	if id == "" {
		return fmt.Errorf("asset with empty id")
	}
	if _, dup := r.assets[id]; dup {
		return fmt.Errorf("asset %s already registered", id)
	}
	r.assets[id] = a
	return nil
}

func (r *Registry) RegisterResource(a Asset) error {
	if err := r.Register(a); err != nil {
		return err
	}
	r.resources[a.ID()] = true
	return nil
}

func (r *Registry) SetAnchor(id string) error {
	if _, ok := r.assets[id]; !ok {
		return fmt.Errorf("anchor asset %s not registered", id)
	}
	r.anchor = id
	r.resources[id] = true
	return nil
}

func (r *Registry) RegisterTier(tier int, a Asset) error {
	if tier < 1 {
		return fmt.Errorf("tier must be >= 1, got %d", tier)
	}
	if _, dup := r.tiers[tier]; dup {
		return fmt.Errorf("tier %d already registered", tier)
	}
	if err := r.Register(a); err != nil {
		return err
	}
	r.tiers[tier] = a.ID()
	return nil
}

func (r *Registry) Asset(id string) Asset { return r.assets[id] }

func (r *Registry) Anchor() string { return r.anchor }

func (r *Registry) IsResource(id string) bool { return r.resources[id] }

// AssetByTier returns nil when the tier is undefined.
func (r *Registry) AssetByTier(tier int) Asset {
	id, ok := r.tiers[tier]
	if !ok {
		return nil
	}
	return r.assets[id]
}

// TierOf returns the tier mapped to an asset id, or 0 when it is not a merc
// asset.
func (r *Registry) TierOf(assetID string) int {
	for tier, id := range r.tiers {
		if id == assetID {
			return tier
		}
	}
	return 0
}

func (r *Registry) Tiers() []int {
	out := make([]int, 0, len(r.tiers))
	for tier := range r.tiers {
		out = append(out, tier)
	}
	sort.Ints(out)
	return out
}

func (r *Registry) AssetIDs() []string {
	out := make([]string, 0, len(r.assets))
	for id := range r.assets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ValidateResources checks a proposed resource list: non-empty, anchor
// included, no duplicates, every entry registered as a resource.
func (r *Registry) ValidateResources(ids []string) error {
	if len(ids) == 0 {
		return protocol.Errf(protocol.ErrBadRequest, "empty resource list")
	}
	seen := map[string]bool{}
	hasAnchor := false
	for _, id := range ids {
		if seen[id] {
			return protocol.Errf(protocol.ErrBadRequest, "duplicate resource "+id)
		}
		seen[id] = true
		if !r.resources[id] {
			return protocol.Errf(protocol.ErrAssetUnknown, "unregistered resource "+id)
		}
		if id == r.anchor {
			hasAnchor = true
		}
	}
	if !hasAnchor {
		return protocol.Errf(protocol.ErrBadRequest, "resource list missing anchor "+r.anchor)
	}
	return nil
}
