package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"warmines.gg/internal/persistence/snapshot"
	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/bank"
	"warmines.gg/internal/sim/catalogs"
	"warmines.gg/internal/sim/mine"
	"warmines.gg/internal/sim/token"
	"warmines.gg/internal/sim/tuning"
	"warmines.gg/internal/telemetry"
)

type Config struct {
	ID      string
	AdminID string
	Tune    tuning.Tuning
	Clock   func() time.Time
}

type JoinRequest struct {
	PlayerName string
	Out        chan []byte
	Resp       chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     error
}

// ActionEnvelope carries one validated command from a session into the
// engine loop. PlayerID is the session identity established at join and
// is trusted over anything inside the command body.
type ActionEnvelope struct {
	SessionID string
	PlayerID  string
	Cmd       protocol.CmdMsg
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	At      time.Time `json:"at"`
	Player  string    `json:"player"`
	Session string    `json:"session,omitempty"`
	Op      string    `json:"op"`
	Ref     string    `json:"ref,omitempty"`
	Asset   string    `json:"asset,omitempty"`
	Mine    string    `json:"mine,omitempty"`
	Tier    int       `json:"tier,omitempty"`
	Amount  int64     `json:"amount,omitempty"`
	To      string    `json:"to,omitempty"`
	OK      bool      `json:"ok"`
	Code    string    `json:"code,omitempty"`
}

type clientState struct {
	PlayerID string
	Out      chan []byte
}

// Engine is the single-threaded authoritative economy. All mutable state
// must be accessed only from the engine loop goroutine; transports talk to
// it through the join/leave/inbox channels and the exec closure channel.
type Engine struct {
	cfg  Config
	cats *catalogs.Catalogs

	bank   *bank.Bank
	assets *token.Registry
	toks   map[string]*token.Token
	mines  *mine.Registry

	clients map[string]*clientState

	inbox chan ActionEnvelope
	join  chan JoinRequest
	leave chan string
	exec  chan func()
	stop  chan struct{}

	nextSessionNum atomic.Uint64

	auditLogger  AuditLogger
	rec          telemetry.Recorder
	snapshotSink chan<- snapshot.SnapshotV1

	clock func() time.Time
}

func New(cfg Config, cats *catalogs.Catalogs) (*Engine, error) {
	if cfg.ID == "" {
		cfg.ID = "warmines"
	}
	if cfg.AdminID == "" {
		cfg.AdminID = "admin"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if err := cfg.Tune.Validate(); err != nil {
		return nil, err
	}

	assets, toks, err := cats.BuildAssets()
	if err != nil {
		return nil, err
	}

	b := bank.New(bank.Config{
		ID:                 "bank",
		SinkPlayer:         cfg.Tune.SinkPlayer,
		WithdrawTaxDivisor: cfg.Tune.WithdrawTaxDivisor,
		RateLimitBps:       cfg.Tune.RateLimitBps,
		RateWindow:         cfg.Tune.RateWindow(),
	})
	b.SetClock(cfg.Clock)
	b.Grant(cfg.AdminID, bank.RoleAdmin|bank.RoleOperator)

	mines := mine.NewRegistry(b, assets)
	createdAt := cfg.Clock()
	for _, def := range cats.Mines {
		_, err := mines.Create(mine.Config{
			ID:               def.ID,
			Resource:         assets.Asset(def.Resource),
			InitialDailyRate: def.DailyRate,
			HalvingPeriod:    time.Duration(def.HalvingSecs) * time.Second,
			CreatedAt:        createdAt,
			MinMercs:         cfg.Tune.MinMercs,
			BoostDuration:    cfg.Tune.BoostDuration(),
			BoostCostDivisor: cfg.Tune.BoostCostDivisor,
			AbandonWait:      cfg.Tune.AbandonWait(),
			AbandonBurnBps:   cfg.Tune.AbandonBurnBps,
			HalvingShiftCap:  cfg.Tune.HalvingShiftCap,
			DayLength:        cfg.Tune.DayLength(),
		})
		if err != nil {
			return nil, fmt.Errorf("mine %s: %w", def.ID, err)
		}
	}

	e := &Engine{
		cfg:     cfg,
		cats:    cats,
		bank:    b,
		assets:  assets,
		toks:    toks,
		mines:   mines,
		clients: map[string]*clientState{},
		inbox:   make(chan ActionEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		exec:    make(chan func()),
		stop:    make(chan struct{}),
		rec:     telemetry.NewNoopRecorder(),
		clock:   cfg.Clock,
	}
	return e, nil
}

func (e *Engine) SetAuditLogger(l AuditLogger) { e.auditLogger = l }

func (e *Engine) SetRecorder(rec telemetry.Recorder) {
	if rec == nil {
		return
	}
	e.rec = rec
	e.bank.SetRecorder(rec)
	e.mines.SetRecorder(rec)
}

func (e *Engine) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { e.snapshotSink = ch }

func (e *Engine) Inbox() chan<- ActionEnvelope { return e.inbox }
func (e *Engine) Join() chan<- JoinRequest     { return e.join }
func (e *Engine) Leave() chan<- string         { return e.leave }

func (e *Engine) ID() string { return e.cfg.ID }

func (e *Engine) Run(ctx context.Context) error {
	var snapC <-chan time.Time
	if e.snapshotSink != nil && e.cfg.Tune.SnapshotEverySecs > 0 {
		t := time.NewTicker(e.cfg.Tune.SnapshotEvery())
		defer t.Stop()
		snapC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.join:
			e.handleJoin(req)
		case id := <-e.leave:
			delete(e.clients, id)
		case env := <-e.inbox:
			e.applyCmd(env)
		case fn := <-e.exec:
			fn()
		case <-snapC:
			snap := e.exportSnapshot(e.clock())
			select {
			case e.snapshotSink <- snap:
			default:
				// Drop when the sink is backed up.
			}
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

// do runs fn on the engine goroutine and waits for it to finish. It is the
// only safe way for other goroutines to read or mutate engine state.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.exec <- func() { fn(); close(done) }:
		<-done
	case <-e.stop:
	}
}

func (e *Engine) handleJoin(req JoinRequest) {
	playerID, err := e.normalizePlayer(req.PlayerName)
	if err != nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{Err: err}
		}
		return
	}

	sessionID := fmt.Sprintf("s%d", e.nextSessionNum.Add(1))
	if req.Out != nil {
		e.clients[sessionID] = &clientState{PlayerID: playerID, Out: req.Out}
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        playerID,
		SessionID:       sessionID,
		Params:          e.params(),
		Catalogs: protocol.CatalogDigests{
			Assets: protocol.AssetDigest{
				Digest: e.cats.Digest,
				Count:  len(e.cats.Resources) + len(e.cats.MercTiers),
			},
		},
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: welcome}
	}
}

func (e *Engine) params() protocol.EngineParams {
	return protocol.EngineParams{
		AnchorAsset:     e.assets.Anchor(),
		MinMercs:        e.cfg.Tune.MinMercs,
		RateLimitBps:    e.cfg.Tune.RateLimitBps,
		RateWindowSecs:  e.cfg.Tune.RateWindowSecs,
		BoostSecs:       e.cfg.Tune.BoostSecs,
		AbandonCooldown: e.cfg.Tune.AbandonCooldown,
	}
}

// normalizePlayer maps a requested display name onto a stable player id.
// Reconnecting under the same name resumes the same balances.
func (e *Engine) normalizePlayer(name string) (string, error) {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
		if sb.Len() >= 32 {
			break
		}
	}
	id := sb.String()
	if id == "" {
		return "", protocol.Errf(protocol.ErrProtoBadRequest, "unusable player name")
	}
	if e.reservedID(id) {
		return "", protocol.Errf(protocol.ErrProtoBadRequest, "reserved player name "+id)
	}
	return id, nil
}

func (e *Engine) reservedID(id string) bool {
	if id == e.bank.ID() || id == e.cfg.AdminID || id == e.cfg.Tune.SinkPlayer {
		return true
	}
	for _, m := range e.cats.Mines {
		if id == m.ID {
			return true
		}
	}
	return false
}

func (e *Engine) sendTo(sessionID string, events ...protocol.Event) {
	cl := e.clients[sessionID]
	if cl == nil || len(events) == 0 {
		return
	}
	e.push(cl, events)
}

func (e *Engine) broadcast(events ...protocol.Event) {
	if len(events) == 0 {
		return
	}
	for _, cl := range e.clients {
		e.push(cl, events)
	}
}

func (e *Engine) push(cl *clientState, events []protocol.Event) {
	msg := protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Events:          events,
	}
	b, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	select {
	case cl.Out <- b:
	default:
		// Slow consumer; drop rather than stall the loop.
	}
}
