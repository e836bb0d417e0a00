package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"warmines.gg/internal/persistence/snapshot"
)

type DayArchiveMeta struct {
	Engine        string `json:"engine"`
	Day           string `json:"day"`
	TakenAt       string `json:"taken_at"`
	CatalogDigest string `json:"catalog_digest"`
	Snapshot      string `json:"snapshot"`
	CreatedAt     string `json:"created_at"`
	Wallets       int    `json:"wallets"`
	Mines         int    `json:"mines"`
	Paused        bool   `json:"paused"`
}

// ArchiveDaySnapshot copies the newest snapshot taken on the given UTC day
// into `engineDir/archives/day_<YYYYMMDD>/`. Snapshots rotate out with log
// retention; the archive copy is what survives. Returns archived=false when
// the day has no snapshot or was already archived.
func ArchiveDaySnapshot(engineDir string, day time.Time) (archivedPath string, archived bool, err error) {
	dayTag := day.UTC().Format("20060102")
	archiveDir := filepath.Join(engineDir, "archives", "day_"+dayTag)
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err == nil {
		return "", false, nil
	}

	src := newestSnapshotOfDay(filepath.Join(engineDir, "snapshots"), dayTag)
	if src == "" {
		return "", false, nil
	}
	snap, err := snapshot.ReadSnapshot(src)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", src, err)
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(archiveDir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", false, err
	}

	meta := DayArchiveMeta{
		Engine:        snap.Header.EngineID,
		Day:           dayTag,
		TakenAt:       snap.Header.TakenAt.UTC().Format(time.RFC3339Nano),
		CatalogDigest: snap.CatalogDigest,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Wallets:       len(snap.Wallets),
		Mines:         len(snap.Mines),
		Paused:        snap.Paused,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

// newestSnapshotOfDay relies on the snap-<YYYYMMDD>-<HHMMSS>.zst naming, which
// sorts chronologically.
func newestSnapshotOfDay(dir, dayTag string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	prefix := "snap-" + dayTag + "-"
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".zst") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
