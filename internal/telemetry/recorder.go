package telemetry

import (
	"log"
	"time"
)

// DepositEvent records a custodial deposit.
type DepositEvent struct {
	Player string
	Asset  string
	Amount int64
	At     time.Time
}

// WithdrawEvent records a custodial withdrawal split.
type WithdrawEvent struct {
	Player   string
	Asset    string
	Amount   int64
	Returned int64
	Burned   int64
	At       time.Time
}

// BattleEvent records one seizure attempt, successful or not.
type BattleEvent struct {
	Mine          string
	Attacker      string
	PrevOwner     string
	AttackerTier  int
	AttackerForce int64
	DefenderTier  int
	DefenderForce int64
	AttackerPower int64
	DefenderPower int64
	AttackerLoss  int64
	DefenderLoss  int64
	AttackerWon   bool
	At            time.Time
}

// ClaimEvent records a resource claim.
type ClaimEvent struct {
	Mine   string
	Owner  string
	Asset  string
	Amount int64
	At     time.Time
}

// BoostEvent records a defense boost activation.
type BoostEvent struct {
	Mine   string
	Owner  string
	Cost   int64
	Expiry time.Time
	At     time.Time
}

// AbandonEvent records a voluntary abandonment.
type AbandonEvent struct {
	Mine      string
	Owner     string
	Returned  int64
	Destroyed int64
	At        time.Time
}

// Recorder persists game telemetry for later analysis. Implementations are
// passive: they never influence the outcome of the operation that fired them.
type Recorder interface {
	RecordDeposit(e DepositEvent) error
	RecordWithdraw(e WithdrawEvent) error
	RecordBattle(e BattleEvent) error
	RecordClaim(e ClaimEvent) error
	RecordBoost(e BoostEvent) error
	RecordAbandon(e AbandonEvent) error
	Close() error
}

// Emit runs one recorder call and fully absorbs failures, including panics
// from a misbehaving implementation.
func Emit(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[telemetry] recorder panic: %v", r)
		}
	}()
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		log.Printf("[telemetry] record: %v", err)
	}
}
