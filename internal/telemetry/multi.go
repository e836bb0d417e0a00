package telemetry

import "errors"

// MultiRecorder fans events out to several recorders. Each target is
// attempted regardless of earlier failures.
type MultiRecorder struct {
	targets []Recorder
}

func NewMultiRecorder(targets ...Recorder) *MultiRecorder {
	return &MultiRecorder{targets: targets}
}

func (m *MultiRecorder) each(fn func(Recorder) error) error {
	var errs []error
	for _, t := range m.targets {
		if err := fn(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) RecordDeposit(e DepositEvent) error {
	return m.each(func(r Recorder) error { return r.RecordDeposit(e) })
}

func (m *MultiRecorder) RecordWithdraw(e WithdrawEvent) error {
	return m.each(func(r Recorder) error { return r.RecordWithdraw(e) })
}

func (m *MultiRecorder) RecordBattle(e BattleEvent) error {
	return m.each(func(r Recorder) error { return r.RecordBattle(e) })
}

func (m *MultiRecorder) RecordClaim(e ClaimEvent) error {
	return m.each(func(r Recorder) error { return r.RecordClaim(e) })
}

func (m *MultiRecorder) RecordBoost(e BoostEvent) error {
	return m.each(func(r Recorder) error { return r.RecordBoost(e) })
}

func (m *MultiRecorder) RecordAbandon(e AbandonEvent) error {
	return m.each(func(r Recorder) error { return r.RecordAbandon(e) })
}

func (m *MultiRecorder) Close() error {
	return m.each(func(r Recorder) error { return r.Close() })
}
