// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package watch keeps the subject registry in step with a file-backed data
// dir. Subject storage created by another process is adopted, storage that
// disappears is deregistered, and writes to a subject's files refresh its
// schema snapshot. Events are debounced per subject.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"

	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/schema"
	"nlcube/cli/internal/subject"
)

// Registry is the part of the subject registry the watcher drives.
type Registry interface {
	Adopt(ctx context.Context, name string) (subject.Subject, error)
	Remove(ctx context.Context, name string) error
	List() []string
}

// Schemas is the part of the schema cache the watcher drives.
type Schemas interface {
	Refresh(ctx context.Context, name string) (*schema.Snapshot, error)
	Forget(name string)
}

// Locator maps a subject to its storage file.
type Locator interface {
	Locate(subject string) string
}

// Watcher follows one data dir.
type Watcher struct {
	dataDir  string
	locator  Locator
	registry Registry
	schemas  Schemas
	debounce time.Duration
	logger   *pterm.Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*pending
	wg     sync.WaitGroup
}

// pending is a debounced sync; its identity tells a firing timer whether it
// was superseded.
type pending struct{ t *time.Timer }

// New watches dataDir, creating it if needed. A zero debounce means 500ms.
func New(dataDir string, locator Locator, reg Registry, schemas Schemas, debounce time.Duration, logger *pterm.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dataDir:  filepath.Clean(dataDir),
		locator:  locator,
		registry: reg,
		schemas:  schemas,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		timers:   make(map[string]*pending),
	}
	if err := fsw.Add(w.dataDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(w.dataDir)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.watchDir(e.Name())
		}
	}
	return w, nil
}

// Run handles events until ctx ends, then stops the watcher and waits for
// pending syncs.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("data dir watcher error", w.logger.Args("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.dataDir, ev.Name)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := parts[0]
	if subject.ValidateName(name) != nil {
		return
	}
	if len(parts) == 1 && ev.Has(fsnotify.Create) {
		w.watchDir(name)
	}
	w.schedule(ctx, name)
}

func (w *Watcher) watchDir(name string) {
	if subject.ValidateName(name) != nil {
		return
	}
	if err := w.fsw.Add(filepath.Join(w.dataDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("cannot watch subject dir", w.logger.Args("subject", name, "error", err.Error()))
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.timers[name]; ok && p.t.Stop() {
		p.t.Reset(w.debounce)
		return
	}
	p := &pending{}
	w.wg.Add(1)
	p.t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[name] == p {
			delete(w.timers, name)
		}
		w.mu.Unlock()
		if ctx.Err() == nil {
			w.sync(ctx, name)
		}
	})
	w.timers[name] = p
}

// sync reconciles one subject with its storage.
func (w *Watcher) sync(ctx context.Context, name string) {
	_, statErr := os.Stat(w.locator.Locate(name))
	exists := statErr == nil
	registered := slices.Contains(w.registry.List(), name)

	switch {
	case exists && !registered:
		if _, err := w.registry.Adopt(ctx, name); err != nil {
			w.logger.Warn("cannot adopt subject", w.logger.Args("subject", name, "error", err.Error()))
			return
		}
		w.logger.Info("subject appeared", w.logger.Args("subject", name))
		w.refresh(ctx, name)
	case !exists && registered:
		if err := w.registry.Remove(ctx, name); err != nil {
			if nerrors.Is(err, nerrors.Busy) {
				// Try again once the in-flight work has drained.
				w.schedule(ctx, name)
			}
			w.logger.Warn("cannot deregister vanished subject", w.logger.Args("subject", name, "error", err.Error()))
			return
		}
		w.schemas.Forget(name)
		w.logger.Info("subject disappeared", w.logger.Args("subject", name))
	case exists:
		w.refresh(ctx, name)
	}
}

func (w *Watcher) refresh(ctx context.Context, name string) {
	if _, err := w.schemas.Refresh(ctx, name); err != nil {
		w.logger.Debug("schema refresh after change failed", w.logger.Args("subject", name, "error", err.Error()))
	}
}

func (w *Watcher) stop() {
	_ = w.fsw.Close()
	w.mu.Lock()
	for name, p := range w.timers {
		if p.t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, name)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
