package app

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oi-radar/config"
	"oi-radar/database"
)

// Archiver trims old timeseries rows once a month: export to gzip CSV,
// delete, then compact the storage file. Runs on the 1st at 03:00 UTC,
// checked hourly.
type Archiver struct {
	db   *database.Database
	repo *database.MarketRepository
	cfg  config.ArchiveConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// NewArchiver creates the monthly archival task
func NewArchiver(db *database.Database, repo *database.MarketRepository, cfg config.ArchiveConfig) *Archiver {
	return &Archiver{db: db, repo: repo, cfg: cfg, done: make(chan struct{})}
}

// Start launches the hourly check loop
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
	log.Println("🗜️  Archiver started")
}

// Stop terminates the loop
func (a *Archiver) Stop() {
	close(a.done)
	a.wg.Wait()
	log.Println("🗜️  Archiver stopped")
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	for {
		now := time.Now().UTC()
		if now.Day() == 1 && now.Hour() == 3 {
			if err := a.Run(); err != nil {
				log.Printf("❌ Archive error: %v", err)
			}
		}
		select {
		case <-a.done:
			return
		case <-time.After(time.Hour):
		}
	}
}

// Run archives every eligible table once
func (a *Archiver) Run() error {
	cutoff := time.Now().Unix() - int64(a.cfg.AfterDays)*86400
	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	stamp := time.Now().UTC().Format("2006_01")

	var totalDeleted int64
	for _, table := range database.ArchivableTables() {
		columns, rows, err := a.repo.RowsBefore(table, cutoff)
		if err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		if len(rows) == 0 {
			continue
		}

		path := filepath.Join(a.cfg.Dir, fmt.Sprintf("%s_%s.csv.gz", table, stamp))
		if err := writeGzipCSV(path, columns, rows); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}

		deleted, err := a.repo.DeleteBefore(table, cutoff)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
		totalDeleted += deleted
		log.Printf("🗜️  Archived %s: %d rows -> %s", table, deleted, path)
	}

	if totalDeleted > 0 {
		if err := a.repo.Vacuum(); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		log.Printf("🗜️  Archive done: %d rows, DB now %.1f MB", totalDeleted, a.db.SizeMB())
	}
	return nil
}

func writeGzipCSV(path string, columns []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	w := csv.NewWriter(gz)

	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}
