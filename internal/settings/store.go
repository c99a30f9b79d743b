package settings

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed settings.schema.json
var schemaDocument string

const reloadDebounce = 200 * time.Millisecond

// ErrInvalid is returned when a record fails schema validation.
var ErrInvalid = errors.New("invalid settings")

// Store keeps the settings record in a JSON file and an in-memory copy that
// follows edits made to the file by other processes.
type Store struct {
	path    string
	schema  *jsonschema.Schema
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Record
	reloads atomic.Uint32
	wg      sync.WaitGroup
}

// Open loads the record at path (a missing file is an empty record) and
// starts watching it for changes. A file that fails the schema is rejected
// with ErrInvalid.
func Open(path string, log *slog.Logger) (*Store, error) {
	schema, err := jsonschema.CompileString("settings.schema.json", schemaDocument)
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}

	s := &Store{
		path:   path,
		schema: schema,
		log:    log.With(slog.String("component", "settings")),
	}

	rec, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current = rec

	if err := s.watch(); err != nil {
		s.log.Warn("settings watcher disabled", slog.String("error", err.Error()))
	}
	return s, nil
}

// Close stops the file watcher.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// Get returns the stored record as persisted.
func (s *Store) Get(context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// Snapshot returns the record with defaults applied.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	rec, err := s.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

// Save validates and persists rec.
func (s *Store) Save(_ context.Context, rec Record) error {
	rec = rec.Normalized()
	if err := s.Validate(rec); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	s.log.Info("settings saved", slog.String("voice", rec.Voice), slog.String("model", rec.Model))
	return nil
}

// Validate checks rec against the settings schema.
func (s *Store) Validate(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Reloads reports how many times the file was reloaded after a change.
func (s *Store) Reloads() uint32 {
	return s.reloads.Load()
}

func (s *Store) read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("read settings: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	rec = rec.Normalized()
	if err := s.Validate(rec); err != nil {
		return Record{}, fmt.Errorf("settings %s: %w", s.path, err)
	}
	return rec, nil
}

// watch follows the parent directory so that atomic replacements of the
// file are seen as well as in-place writes.
func (s *Store) watch() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.loop(watcher)
	return nil
}

func (s *Store) loop(watcher *fsnotify.Watcher) {
	defer s.wg.Done()

	name := filepath.Clean(s.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, s.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("settings watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *Store) reload() {
	rec, err := s.read()
	if err != nil {
		s.log.Error("failed to reload settings, keeping previous record", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	count := s.reloads.Add(1)
	s.log.Debug("settings reloaded", slog.Uint64("count", uint64(count)))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
