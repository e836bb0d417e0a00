package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning carries every economic constant the engine consults at runtime.
// Values are loaded once at startup; the engine never re-reads the file.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Bank.
	WithdrawTaxDivisor int    `yaml:"withdraw_tax_divisor"`
	RateLimitBps       int64  `yaml:"rate_limit_bps"`
	RateWindowSecs     int64  `yaml:"rate_window_secs"`
	SinkPlayer         string `yaml:"sink_player"`

	// Mines.
	MinMercs         int64 `yaml:"min_mercs"`
	BoostSecs        int64 `yaml:"boost_secs"`
	BoostCostDivisor int64 `yaml:"boost_cost_divisor"`
	AbandonCooldown  int64 `yaml:"abandon_cooldown_secs"`
	AbandonBurnBps   int64 `yaml:"abandon_burn_bps"`
	HalvingShiftCap  uint  `yaml:"halving_shift_cap"`
	DaySecs          int64 `yaml:"day_secs"`

	// Server.
	SnapshotEverySecs int `yaml:"snapshot_every_secs"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		WithdrawTaxDivisor: 2,
		RateLimitBps:       100,
		RateWindowSecs:     int64(24 * time.Hour / time.Second),
		SinkPlayer:         "furnace",
		MinMercs:           5,
		BoostSecs:          int64(8 * time.Hour / time.Second),
		BoostCostDivisor:   10,
		AbandonCooldown:    int64(24 * time.Hour / time.Second),
		AbandonBurnBps:     1000,
		HalvingShiftCap:    64,
		DaySecs:            int64(24 * time.Hour / time.Second),
		SnapshotEverySecs:  300,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.WithdrawTaxDivisor < 1 {
		return fmt.Errorf("withdraw_tax_divisor must be >= 1")
	}
	if t.RateLimitBps < 0 || t.RateLimitBps > 10000 {
		return fmt.Errorf("rate_limit_bps must be in [0,10000]")
	}
	if t.RateWindowSecs <= 0 {
		return fmt.Errorf("rate_window_secs must be > 0")
	}
	if t.MinMercs < 1 {
		return fmt.Errorf("min_mercs must be >= 1")
	}
	if t.BoostCostDivisor < 1 {
		return fmt.Errorf("boost_cost_divisor must be >= 1")
	}
	if t.AbandonBurnBps < 0 || t.AbandonBurnBps > 10000 {
		return fmt.Errorf("abandon_burn_bps must be in [0,10000]")
	}
	if t.DaySecs <= 0 {
		return fmt.Errorf("day_secs must be > 0")
	}
	return nil
}

func (t Tuning) RateWindow() time.Duration    { return time.Duration(t.RateWindowSecs) * time.Second }
func (t Tuning) BoostDuration() time.Duration { return time.Duration(t.BoostSecs) * time.Second }
func (t Tuning) AbandonWait() time.Duration   { return time.Duration(t.AbandonCooldown) * time.Second }
func (t Tuning) DayLength() time.Duration     { return time.Duration(t.DaySecs) * time.Second }
func (t Tuning) SnapshotEvery() time.Duration {
	return time.Duration(t.SnapshotEverySecs) * time.Second
}
