package mine

import (
	"fmt"
	"sort"
	"time"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/bank"
	"warmines.gg/internal/sim/token"
	"warmines.gg/internal/telemetry"
)

// Registry creates mines and wires each one's authority to the bank's
// privileged operations.
type Registry struct {
	mines map[string]*Mine
	bank  *bank.Bank
	reg   *token.Registry
	rec   telemetry.Recorder
}

func NewRegistry(b *bank.Bank, reg *token.Registry) *Registry {
	return &Registry{
		mines: map[string]*Mine{},
		bank:  b,
		reg:   reg,
		rec:   telemetry.NewNoopRecorder(),
	}
}

func (r *Registry) SetRecorder(rec telemetry.Recorder) {
	if rec != nil {
		r.rec = rec
		for _, m := range r.mines {
			m.SetRecorder(rec)
		}
	}
}

// Create builds a mine bound to (resource, rate, halving period) and grants
// its ID the bank operator role.
func (r *Registry) Create(cfg Config) (*Mine, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("mine with empty id")
	}
	if _, dup := r.mines[cfg.ID]; dup {
		return nil, fmt.Errorf("mine %s already exists", cfg.ID)
	}
	if cfg.Resource == nil {
		return nil, fmt.Errorf("mine %s has no resource asset", cfg.ID)
	}
	if !r.reg.IsResource(cfg.Resource.ID()) {
		return nil, fmt.Errorf("mine %s resource %s is not registered", cfg.ID, cfg.Resource.ID())
	}
	if cfg.InitialDailyRate <= 0 {
		return nil, fmt.Errorf("mine %s needs a positive daily rate", cfg.ID)
	}
	if cfg.HalvingPeriod <= 0 {
		return nil, fmt.Errorf("mine %s needs a positive halving period", cfg.ID)
	}

	m := New(cfg, r.bank, r.reg)
	m.SetRecorder(r.rec)
	r.bank.Grant(cfg.ID, bank.RoleOperator)
	r.mines[cfg.ID] = m
	return m, nil
}

func (r *Registry) Get(id string) (*Mine, error) {
	m := r.mines[id]
	if m == nil {
		return nil, protocol.Errf(protocol.ErrMineUnknown, "no mine "+id)
	}
	return m, nil
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.mines))
	for id := range r.mines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Snapshots(now time.Time) []Snapshot {
	ids := r.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.mines[id].Snapshot(now))
	}
	return out
}
