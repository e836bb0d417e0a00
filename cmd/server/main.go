package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"warmines.gg/internal/persistence/archive"
	"warmines.gg/internal/persistence/indexdb"
	applog "warmines.gg/internal/persistence/log"
	"warmines.gg/internal/persistence/snapshot"
	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/catalogs"
	"warmines.gg/internal/sim/engine"
	"warmines.gg/internal/sim/tuning"
	"warmines.gg/internal/telemetry"
	"warmines.gg/internal/transport/api"
	"warmines.gg/internal/transport/ws"
)

type envConfig struct {
	Addr       string `env:"WARMINES_ADDR" envDefault:":8080"`
	DataDir    string `env:"WARMINES_DATA_DIR" envDefault:"./data"`
	ConfigDir  string `env:"WARMINES_CONFIG_DIR" envDefault:"./configs"`
	SchemaDir  string `env:"WARMINES_SCHEMA_DIR" envDefault:"./schemas"`
	EngineID   string `env:"WARMINES_ENGINE_ID" envDefault:"warmines"`
	AdminToken string `env:"WARMINES_ADMIN_TOKEN"`
	Resume     bool   `env:"WARMINES_RESUME" envDefault:"true"`
	RetainDays int    `env:"WARMINES_LOG_RETAIN_DAYS" envDefault:"14"`
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.LUTC)

	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		logger.Fatalf("env: %v", err)
	}

	addr := flag.String("addr", ec.Addr, "listen address")
	dataDir := flag.String("data", ec.DataDir, "runtime data directory")
	configDir := flag.String("config", ec.ConfigDir, "config directory (tuning.yaml, assets.yaml)")
	schemaDir := flag.String("schemas", ec.SchemaDir, "json schema directory")
	engineID := flag.String("engine", ec.EngineID, "engine id")
	adminToken := flag.String("admin_token", ec.AdminToken, "bearer token for the admin api (empty disables)")
	resume := flag.Bool("resume", ec.Resume, "restore the latest snapshot at startup")
	retainDays := flag.Int("retain_days", ec.RetainDays, "days of compressed logs to keep")
	flag.Parse()

	tune, err := tuning.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	cats, err := catalogs.Load(filepath.Join(*configDir, "assets.yaml"))
	if err != nil {
		logger.Fatalf("catalogs: %v", err)
	}
	schemas, err := protocol.LoadSchemas(*schemaDir)
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}

	eng, err := engine.New(engine.Config{ID: *engineID, Tune: tune}, cats)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	engineDir := filepath.Join(*dataDir, "engines", *engineID)

	idx, err := indexdb.OpenSQLite(filepath.Join(engineDir, "index", "warmines.sqlite"))
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	defer idx.Close()
	if err := idx.UpsertCatalogs(cats, tune); err != nil {
		logger.Printf("index catalogs: %v", err)
	}

	flows := applog.NewFlowLogger(engineDir)
	defer flows.Close()
	audit := applog.NewAuditLogger(engineDir)
	defer audit.Close()

	eng.SetRecorder(telemetry.NewMultiRecorder(flows, idx))
	eng.SetAuditLogger(multiAudit{audit, idx})

	if *resume {
		if path := latestSnapshot(engineDir); path != "" {
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				logger.Fatalf("read snapshot %s: %v", path, err)
			}
			if err := eng.RestoreSnapshot(snap); err != nil {
				logger.Fatalf("restore snapshot %s: %v", path, err)
			}
			logger.Printf("restored snapshot %s (taken %s)", path, snap.Header.TakenAt.Format(time.RFC3339))
		}
	}

	// Engine-paced snapshots, written off-thread.
	snapCh := make(chan snapshot.SnapshotV1, 1)
	eng.SetSnapshotSink(snapCh)
	go func() {
		for snap := range snapCh {
			path := filepath.Join(engineDir, "snapshots",
				fmt.Sprintf("snap-%s.zst", snap.Header.TakenAt.UTC().Format("20060102-150405")))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			idx.RecordSnapshot(path, snap)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The engine outlives the signal context so the final snapshot can be
	// taken after the HTTP server stops accepting commands.
	engCtx, engCancel := context.WithCancel(context.Background())
	defer engCancel()
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(engCtx) }()

	// Housekeeping jobs.
	cr := cron.New()
	if _, err := cr.AddFunc("@every 1m", func() {
		st := eng.Status()
		if !st.Solvent || st.Paused {
			logger.Printf("health: paused=%v solvent=%v", st.Paused, st.Solvent)
		}
	}); err != nil {
		logger.Fatalf("cron: %v", err)
	}
	if _, err := cr.AddFunc("@daily", func() {
		yesterday := time.Now().UTC().Add(-24 * time.Hour)
		if path, ok, err := archive.ArchiveDaySnapshot(engineDir, yesterday); err != nil {
			logger.Printf("archive: %v", err)
		} else if ok {
			logger.Printf("archived %s", path)
		}
		pruneLogs(logger, engineDir, *retainDays)
	}); err != nil {
		logger.Fatalf("cron: %v", err)
	}
	cr.Start()
	defer cr.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.NewServer(eng, schemas, logger).Handler())
	api.NewServer(eng, *adminToken, logger).Routes(mux)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s (engine %s, catalog %s)", *addr, *engineID, cats.Digest[:12])
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Final snapshot before exit.
	snap := eng.Snapshot()
	path := filepath.Join(engineDir, "snapshots",
		fmt.Sprintf("snap-%s.zst", snap.Header.TakenAt.UTC().Format("20060102-150405")))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		idx.RecordSnapshot(path, snap)
		logger.Printf("wrote final snapshot %s", path)
	}

	engCancel()
	<-engineDone
	close(snapCh)
}

// multiAudit fans audit entries out to the JSONL log and the sqlite index.
type multiAudit struct {
	jsonl *applog.AuditLogger
	idx   *indexdb.SQLiteIndex
}

func (m multiAudit) WriteAudit(e engine.AuditEntry) error {
	err := m.jsonl.WriteAudit(e)
	_ = m.idx.WriteAudit(e)
	return err
}

func latestSnapshot(engineDir string) string {
	dir := filepath.Join(engineDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snap-") && strings.HasSuffix(e.Name(), ".zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// pruneLogs deletes compressed log files older than the retention window.
// Snapshots are kept; they are the recovery path.
func pruneLogs(logger *log.Logger, engineDir string, retainDays int) {
	if retainDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(retainDays) * 24 * time.Hour)
	for _, sub := range []string{"audit", "flows", "battles"} {
		dir := filepath.Join(engineDir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				logger.Printf("prune %s: %v", e.Name(), err)
			}
		}
	}
}
