package oem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/storage"
)

const reloadDebounce = 400 * time.Millisecond

// referenceFile is the YAML shape of a curated OEM reference file.
type referenceFile struct {
	Relationships []*models.OEMRelationship `yaml:"relationships"`
}

// Loader bulk-loads curated OEM relationship rows from a YAML reference file
// into storage and the resolver, and optionally watches the file so edits by
// the reference-data curators take effect without a restart.
type Loader struct {
	resolver *Resolver
	storage  storage.Storage
	logger   *zap.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewLoader creates a loader feeding the given resolver and storage.
func NewLoader(resolver *Resolver, store storage.Storage, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{resolver: resolver, storage: store, logger: logger}
}

// LoadFile parses the reference file, persists the rows, and reloads the
// resolver table. Malformed patterns inside rows are handled by the resolver
// (skipped, not fatal); only an unreadable or unparseable file is an error.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read OEM reference file: %w", err)
	}
	var ref referenceFile
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return 0, fmt.Errorf("failed to parse OEM reference file: %w", err)
	}

	if l.storage != nil {
		if err := l.storage.ReplaceOEMRelationships(ctx, ref.Relationships); err != nil {
			return 0, fmt.Errorf("failed to persist OEM relationships: %w", err)
		}
	}
	return l.resolver.Reload(ref.Relationships), nil
}

// LoadFromStorage rebuilds the resolver table from persisted rows, used at
// startup when no reference file is configured.
func (l *Loader) LoadFromStorage(ctx context.Context) (int, error) {
	rels, err := l.storage.ListOEMRelationships(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list OEM relationships: %w", err)
	}
	return l.resolver.Reload(rels), nil
}

// Watch re-loads the reference file whenever it changes, debounced so editors
// that write in several events trigger one reload. Runs until ctx is
// cancelled. The parent directory is watched because many editors replace the
// file on save.
func (l *Loader) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	l.logger.Debug("watching OEM reference file", zap.String("path", path))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				l.scheduleReload(ctx, path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("OEM reference watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (l *Loader) scheduleReload(ctx context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debounceTimer != nil {
		l.debounceTimer.Stop()
	}
	l.debounceTimer = time.AfterFunc(reloadDebounce, func() {
		n, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Warn("OEM reference reload failed", zap.String("path", path), zap.Error(err))
			return
		}
		l.logger.Info("OEM reference reloaded", zap.String("path", path), zap.Int("rows", n))
	})
}
