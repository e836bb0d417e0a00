package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "withdraw_tax_divisor: 4\nrate_limit_bps: 0\nmin_mercs: 1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tune, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.WithdrawTaxDivisor != 4 {
		t.Fatalf("divisor=%d", tune.WithdrawTaxDivisor)
	}
	if tune.RateLimitBps != 0 {
		t.Fatalf("bps=%d", tune.RateLimitBps)
	}
	// Untouched keys keep defaults.
	if tune.SinkPlayer != "furnace" {
		t.Fatalf("sink=%q", tune.SinkPlayer)
	}
	if tune.RateWindow() != 24*time.Hour {
		t.Fatalf("window=%v", tune.RateWindow())
	}
	if tune.BoostDuration() != 8*time.Hour {
		t.Fatalf("boost=%v", tune.BoostDuration())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"withdraw_tax_divisor: 0\n", "withdraw_tax_divisor"},
		{"rate_limit_bps: 10001\n", "rate_limit_bps"},
		{"rate_window_secs: 0\n", "rate_window_secs"},
		{"min_mercs: 0\n", "min_mercs"},
		{"abandon_burn_bps: -1\n", "abandon_burn_bps"},
		{"day_secs: 0\n", "day_secs"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: err=%v, want %q", tc.body, err, tc.want)
		}
	}
}
