package risk

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const blackoutDateLayout = "2006-01-02"

// blackoutFile is the on-disk calendar. YAML or JSON (JSON is valid YAML).
//
//	refreshed_at: 2026-03-01T06:00:00Z
//	earnings:
//	  - symbol: AAPL
//	    start: 2026-04-29
//	    end: 2026-05-01
type blackoutFile struct {
	RefreshedAt string `yaml:"refreshed_at"`
	Earnings    []struct {
		Symbol string `yaml:"symbol"`
		Start  string `yaml:"start"`
		End    string `yaml:"end"`
	} `yaml:"earnings"`
}

// BlackoutWatcher keeps a BlackoutCalendar in sync with a calendar file.
type BlackoutWatcher struct {
	path     string
	calendar *BlackoutCalendar
	debounce time.Duration
	logger   *log.Logger
}

// NewBlackoutWatcher creates a watcher for path. A zero debounce defaults to 300ms.
func NewBlackoutWatcher(path string, calendar *BlackoutCalendar, debounce time.Duration, logger *log.Logger) *BlackoutWatcher {
	if logger == nil {
		logger = log.Default()
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &BlackoutWatcher{
		path:     path,
		calendar: calendar,
		debounce: debounce,
		logger:   logger,
	}
}

// Load parses the file and replaces the calendar contents. When the file has
// no refreshed_at, its modification time is used.
func (w *BlackoutWatcher) Load() error {
	windows, refreshedAt, err := ParseBlackoutFile(w.path)
	if err != nil {
		return err
	}
	w.calendar.Replace(windows, refreshedAt)
	return nil
}

// Watch reloads the calendar whenever the file is written, created or
// renamed over. Events are debounced. Returns once the watch is registered;
// the loop exits when ctx is done.
func (w *BlackoutWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create blackout watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch blackout dir: %w", err)
	}

	go w.loop(ctx, watcher)
	return nil
}

func (w *BlackoutWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timerMu sync.Mutex
	var timer *time.Timer
	reload := func() {
		if err := w.Load(); err != nil {
			w.logger.Printf("ERROR: reload blackout calendar: %v", err)
		}
	}
	trigger := func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, reload)
		timerMu.Unlock()
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Printf("blackout watcher error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ParseBlackoutFile reads a calendar file. End defaults to Start.
func ParseBlackoutFile(path string) ([]BlackoutWindow, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read blackout calendar: %w", err)
	}

	var f blackoutFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode blackout calendar: %w", err)
	}

	var refreshedAt time.Time
	if f.RefreshedAt != "" {
		refreshedAt, err = time.Parse(time.RFC3339, f.RefreshedAt)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parse refreshed_at %q: %w", f.RefreshedAt, err)
		}
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("stat blackout calendar: %w", err)
		}
		refreshedAt = info.ModTime()
	}

	windows := make([]BlackoutWindow, 0, len(f.Earnings))
	for i, e := range f.Earnings {
		if e.Symbol == "" {
			return nil, time.Time{}, fmt.Errorf("earnings[%d]: missing symbol", i)
		}
		start, err := time.Parse(blackoutDateLayout, e.Start)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("earnings[%d] %s: parse start: %w", i, e.Symbol, err)
		}
		end := start
		if e.End != "" {
			end, err = time.Parse(blackoutDateLayout, e.End)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("earnings[%d] %s: parse end: %w", i, e.Symbol, err)
			}
		}
		windows = append(windows, BlackoutWindow{Symbol: e.Symbol, Start: start, End: end})
	}
	return windows, refreshedAt, nil
}
