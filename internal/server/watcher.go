package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"imgpub/internal/logfields"
	"imgpub/internal/variant"
)

// CatalogHolder is the live variant catalog, swapped on reload.
type CatalogHolder struct {
	mu      sync.RWMutex
	catalog *variant.Catalog
}

// NewCatalogHolder wraps an initial catalog.
func NewCatalogHolder(c *variant.Catalog) *CatalogHolder {
	return &CatalogHolder{catalog: c}
}

// Get returns the current catalog.
func (h *CatalogHolder) Get() *variant.Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.catalog
}

func (h *CatalogHolder) set(c *variant.Catalog) {
	h.mu.Lock()
	h.catalog = c
	h.mu.Unlock()
}

// CatalogWatcher reloads the catalog file when it changes. A catalog that
// fails to load or validate is logged and the previous one stays live.
type CatalogWatcher struct {
	path     string
	holder   *CatalogHolder
	watcher  *fsnotify.Watcher
	debounce time.Duration
	reloadCh chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewCatalogWatcher creates a watcher for path.
func NewCatalogWatcher(path string, holder *CatalogHolder) (*CatalogWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	return &CatalogWatcher{
		path:     abs,
		holder:   holder,
		watcher:  w,
		debounce: 500 * time.Millisecond,
		reloadCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the catalog's directory (editors replace files by rename).
func (cw *CatalogWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch catalog directory %s: %w", dir, err)
	}
	slog.Info("Watching variant catalog", "path", cw.path)
	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop ends both loops and closes the watcher.
func (cw *CatalogWatcher) Stop() error {
	var err error
	cw.once.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
	})
	return err
}

func (cw *CatalogWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.done:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				select {
				case cw.reloadCh <- struct{}{}:
				default:
				}
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Catalog watcher error", logfields.Error(err))
		}
	}
}

func (cw *CatalogWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cw.reloadCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, func() {
				if err := cw.Reload(); err != nil {
					slog.Error("Failed to reload variant catalog", logfields.Error(err))
				}
			})
		}
	}
}

// Reload loads the catalog file and swaps it in on success.
func (cw *CatalogWatcher) Reload() error {
	c, err := variant.Load(cw.path)
	if err != nil {
		return err
	}
	cw.holder.set(c)
	slog.Info("Variant catalog reloaded", "variants", len(c.Variants))
	return nil
}
