package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"warmines.gg/internal/sim/engine"
	"warmines.gg/internal/telemetry"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AuditLogger writes one compressed JSONL entry per applied command.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v engine.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                         { return l.w.Close() }

// FlowLogger records economic telemetry as compressed JSONL, one stream for
// bank flows and one for battles. It implements telemetry.Recorder.
type FlowLogger struct {
	flows   *JSONLZstdWriter
	battles *JSONLZstdWriter
}

func NewFlowLogger(dataDir string) *FlowLogger {
	return &FlowLogger{
		flows:   NewJSONLZstdWriter(filepath.Join(dataDir, "flows"), "flows"),
		battles: NewJSONLZstdWriter(filepath.Join(dataDir, "battles"), "battles"),
	}
}

var _ telemetry.Recorder = (*FlowLogger)(nil)

type taggedEvent struct {
	Kind  string `json:"kind"`
	Event any    `json:"event"`
}

func (l *FlowLogger) RecordDeposit(ev telemetry.DepositEvent) error {
	return l.flows.Write(taggedEvent{Kind: "deposit", Event: ev})
}

func (l *FlowLogger) RecordWithdraw(ev telemetry.WithdrawEvent) error {
	return l.flows.Write(taggedEvent{Kind: "withdraw", Event: ev})
}

func (l *FlowLogger) RecordBattle(ev telemetry.BattleEvent) error {
	return l.battles.Write(taggedEvent{Kind: "battle", Event: ev})
}

func (l *FlowLogger) RecordClaim(ev telemetry.ClaimEvent) error {
	return l.flows.Write(taggedEvent{Kind: "claim", Event: ev})
}

func (l *FlowLogger) RecordBoost(ev telemetry.BoostEvent) error {
	return l.flows.Write(taggedEvent{Kind: "boost", Event: ev})
}

func (l *FlowLogger) RecordAbandon(ev telemetry.AbandonEvent) error {
	return l.flows.Write(taggedEvent{Kind: "abandon", Event: ev})
}

func (l *FlowLogger) Close() error {
	err1 := l.flows.Close()
	err2 := l.battles.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
