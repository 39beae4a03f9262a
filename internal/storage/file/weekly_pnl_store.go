// Package file implements storage on the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

const dateLayout = "2006-01-02"

type weeklyPnLFile struct {
	Date      string          `json:"date"`
	WeeklyPnL decimal.Decimal `json:"weekly_pnl"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WeeklyPnLStore persists the weekly P&L record as a small JSON document.
// Writes are atomic: tmp file, fsync, rename, then fsync of the directory.
type WeeklyPnLStore struct {
	mu   sync.Mutex
	path string
}

// NewWeeklyPnLStore creates a store writing to path. The parent directory is
// created if missing.
func NewWeeklyPnLStore(path string) (*WeeklyPnLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("weekly pnl path: %w", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &WeeklyPnLStore{path: path}, nil
}

var _ storage.WeeklyPnLStore = (*WeeklyPnLStore)(nil)

// Load reads the record. Returns ErrNotFound if the file does not exist.
func (s *WeeklyPnLStore) Load(_ context.Context) (*domain.WeeklyPnLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read weekly pnl: %w", err)
	}

	var f weeklyPnLFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode weekly pnl: %w", err)
	}
	date, err := time.Parse(dateLayout, f.Date)
	if err != nil {
		return nil, fmt.Errorf("parse weekly pnl date %q: %w", f.Date, err)
	}
	return &domain.WeeklyPnLRecord{
		Date:      date,
		WeeklyPnL: f.WeeklyPnL,
		UpdatedAt: f.UpdatedAt,
	}, nil
}

// Save atomically replaces the record.
func (s *WeeklyPnLStore) Save(_ context.Context, rec *domain.WeeklyPnLRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	data, err := json.MarshalIndent(weeklyPnLFile{
		Date:      rec.Date.Format(dateLayout),
		WeeklyPnL: rec.WeeklyPnL,
		UpdatedAt: rec.UpdatedAt.UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode weekly pnl: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write weekly pnl: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path via tmp file + fsync + rename and then
// fsyncs the parent directory so the rename itself is durable.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
