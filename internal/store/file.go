package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/angeloszaimis/poolgate/internal/account"
)

const (
	reloadDebounce       = 100 * time.Millisecond
	persistDelay         = 50 * time.Millisecond
	removedFromFileError = "removed from pool file"
)

type poolFile struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Accounts  []account.Account `json:"accounts"`
}

// File is a Memory store persisted to a JSON pool file shortly after each
// change. Memory stays the source of truth: a failed write is logged and
// retried with the next change, and Close writes the final state.
//
// Edits made by another process are merged before every write and by
// Watch. A merge adds new accounts, takes registration fields and operator
// disables, and disables accounts that were removed from the file. It never
// rolls back the health state or counters this process owns.
type File struct {
	*Memory

	path   string
	logger *slog.Logger

	// saveMutex serializes every read and write of the pool file.
	saveMutex sync.Mutex
	lastHash  [sha256.Size]byte

	flushMutex sync.Mutex
	pending    bool
	closed     bool
}

// OpenFile loads the pool file at path, creating it when missing.
func OpenFile(path string, logger *slog.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("pool file path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pool file path: %w", err)
	}

	f := &File{
		Memory: NewMemory(),
		path:   abs,
		logger: logger,
	}

	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("Pool file not found, creating it", slog.String("path", abs))
	case err != nil:
		return nil, fmt.Errorf("failed to read pool file: %w", err)
	default:
		accounts, err := decodePoolFile(data)
		if err != nil {
			return nil, err
		}
		for _, acc := range accounts {
			if err := validate(acc); err != nil {
				logger.Warn("Skipping invalid account in pool file", slog.Any("err", err))
				continue
			}
			f.Memory.put(acc)
		}
		logger.Info("Loaded pool file",
			slog.String("path", abs),
			slog.Int("accounts", len(accounts)))
	}

	f.saveMutex.Lock()
	err = f.writeLocked()
	f.saveMutex.Unlock()
	if err != nil {
		return nil, err
	}
	f.Memory.onChange = f.schedule

	return f, nil
}

// Path returns the absolute path of the pool file.
func (f *File) Path() string {
	return f.path
}

// Flush merges external edits and writes the current state immediately.
func (f *File) Flush() error {
	f.saveMutex.Lock()
	defer f.saveMutex.Unlock()

	if _, err := f.mergeLocked(); err != nil {
		f.logger.Warn("Overwriting unreadable pool file", slog.Any("err", err))
	}
	return f.writeLocked()
}

// Close writes the final state. Changes made after Close stay in memory.
func (f *File) Close() error {
	f.flushMutex.Lock()
	f.closed = true
	f.flushMutex.Unlock()

	return f.Flush()
}

// Reload merges the pool file into memory if someone else changed it since
// this process last wrote it.
func (f *File) Reload() error {
	f.saveMutex.Lock()
	defer f.saveMutex.Unlock()

	merged, err := f.mergeLocked()
	if err != nil || !merged {
		return err
	}
	return f.writeLocked()
}

func (f *File) schedule() {
	f.flushMutex.Lock()
	defer f.flushMutex.Unlock()

	if f.closed || f.pending {
		return
	}
	f.pending = true
	time.AfterFunc(persistDelay, f.flush)
}

func (f *File) flush() {
	// Cleared first so a change made during the write schedules another one.
	f.flushMutex.Lock()
	f.pending = false
	f.flushMutex.Unlock()

	if err := f.Flush(); err != nil {
		f.logger.Error("Failed to persist pool file",
			slog.String("path", f.path),
			slog.Any("err", err))
	}
}

// mergeLocked folds external edits of the pool file into memory and reports
// whether there were any. The caller holds saveMutex.
func (f *File) mergeLocked() (bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pool file: %w", err)
	}
	if sha256.Sum256(data) == f.lastHash {
		return false, nil
	}

	accounts, err := decodePoolFile(data)
	if err != nil {
		return false, err
	}

	missing := f.Memory.ids()
	for _, acc := range accounts {
		if err := validate(acc); err != nil {
			f.logger.Warn("Skipping invalid account in pool file", slog.Any("err", err))
			continue
		}
		delete(missing, acc.ID)

		rec, ok := f.Memory.lookup(acc.ID)
		if !ok {
			f.Memory.put(acc)
			continue
		}
		rec.mutex.Lock()
		mergeExternal(&rec.acc, acc)
		rec.mutex.Unlock()
	}

	for id := range missing {
		rec, ok := f.Memory.lookup(id)
		if !ok {
			continue
		}
		rec.mutex.Lock()
		if rec.acc.Status != account.StatusDisabled {
			_ = disable(removedFromFileError)(&rec.acc)
		}
		rec.mutex.Unlock()
	}

	f.logger.Info("Merged external pool file changes",
		slog.String("path", f.path),
		slog.Int("accounts", len(accounts)),
		slog.Int("disabled_missing", len(missing)))

	return true, nil
}

// mergeExternal applies an externally written record to the live one. A new
// credential is a re-registration and replaces the record outright.
func mergeExternal(live *account.Account, ext account.Account) {
	if ext.APIKey != live.APIKey {
		*live = ext
		return
	}

	live.Username = ext.Username
	live.Email = ext.Email
	live.BaseURL = ext.BaseURL
	live.Group = ext.Group

	if ext.Status == account.StatusDisabled && live.Status != account.StatusDisabled {
		_ = disable(ext.DisabledReason)(live)
	}
}

// writeLocked replaces the pool file with the in-memory state. The caller
// holds saveMutex.
func (f *File) writeLocked() error {
	data, err := json.MarshalIndent(poolFile{
		UpdatedAt: time.Now(),
		Accounts:  f.Memory.snapshot(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pool file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".pool-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp pool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write pool file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace pool file: %w", err)
	}

	f.lastHash = sha256.Sum256(data)
	return nil
}

// Watch reloads the pool file whenever it is written by someone else.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: an atomic rename replaces the file's inode.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch pool file directory: %w", err)
	}

	f.logger.Info("Pool file watcher started", slog.String("path", f.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Pool file watcher stopped", slog.String("path", f.path))
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := f.Reload(); err != nil {
					f.logger.Error("Pool file reload failed", slog.Any("err", err))
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			f.logger.Error("Pool file watcher error", slog.Any("err", err))
		}
	}
}

func decodePoolFile(data []byte) ([]account.Account, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var pf poolFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode pool file: %w", err)
	}

	for i := range pf.Accounts {
		if pf.Accounts[i].ID == "" {
			pf.Accounts[i].ID = pf.Accounts[i].Email
		}
	}
	return pf.Accounts, nil
}
