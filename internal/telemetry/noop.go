package telemetry

// NoopRecorder is used when no index backend is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordDeposit(_ DepositEvent) error   { return nil }
func (n *NoopRecorder) RecordWithdraw(_ WithdrawEvent) error { return nil }
func (n *NoopRecorder) RecordBattle(_ BattleEvent) error     { return nil }
func (n *NoopRecorder) RecordClaim(_ ClaimEvent) error       { return nil }
func (n *NoopRecorder) RecordBoost(_ BoostEvent) error       { return nil }
func (n *NoopRecorder) RecordAbandon(_ AbandonEvent) error   { return nil }
func (n *NoopRecorder) Close() error                         { return nil }
