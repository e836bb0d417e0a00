package bank

import "time"

// CustodyExport returns a deep copy of all custodial balances, keyed
// asset -> player -> amount.
func (b *Bank) CustodyExport() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(b.custody))
	for assetID, holders := range b.custody {
		m := make(map[string]int64, len(holders))
		for p, v := range holders {
			if v != 0 {
				m[p] = v
			}
		}
		if len(m) > 0 {
			out[assetID] = m
		}
	}
	return out
}

// WindowExport is the serializable form of one withdrawal window.
type WindowExport struct {
	Player    string
	Asset     string
	Start     time.Time
	Withdrawn int64
	Limit     int64
}

func (b *Bank) WindowsExport() []WindowExport {
	out := make([]WindowExport, 0, len(b.windows))
	for key, w := range b.windows {
		player, assetID := splitWindowKey(key)
		out = append(out, WindowExport{
			Player: player, Asset: assetID,
			Start: w.Start, Withdrawn: w.Withdrawn, Limit: w.Limit,
		})
	}
	return out
}

// Restore overwrites custody and windows from snapshot data. Roles and the
// pause flag are wiring-time state and are not restored.
func (b *Bank) Restore(custody map[string]map[string]int64, windows []WindowExport) {
	b.custody = map[string]map[string]int64{}
	b.totals = map[string]int64{}
	for assetID, holders := range custody {
		for p, v := range holders {
			b.credit(p, assetID, v)
		}
	}
	b.windows = map[string]*window{}
	for _, w := range windows {
		b.windows[windowKey(w.Player, w.Asset)] = &window{
			Start: w.Start, Withdrawn: w.Withdrawn, Limit: w.Limit,
		}
	}
}

func splitWindowKey(key string) (player, assetID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
