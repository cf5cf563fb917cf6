package targets

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a Registry from its target files whenever they change.
type Watcher struct {
	files    Files
	registry *Registry
	logger   *zap.Logger
	debounce time.Duration
	onReload func(*Snapshot)
}

// NewWatcher creates a watcher for files feeding registry. onReload, if not
// nil, is called after every successful reload.
func NewWatcher(files Files, registry *Registry, logger *zap.Logger, onReload func(*Snapshot)) *Watcher {
	return &Watcher{
		files:    files,
		registry: registry,
		logger:   logger,
		debounce: defaultDebounce,
		onReload: onReload,
	}
}

// Reload loads the target files into the registry. On failure the previous
// snapshot stays in effect, and a missing file keeps its previous group.
func (w *Watcher) Reload() error {
	terminal, virtualization, kept, err := w.files.Load(w.registry.Snapshot())
	if err != nil {
		w.logger.Warn("target reload failed, keeping previous targets", zap.Error(err))
		return err
	}
	for _, path := range kept {
		w.logger.Warn("target file missing, keeping previous targets", zap.String("path", path))
	}
	snap := w.registry.Replace(terminal, virtualization)
	w.logger.Info("targets loaded",
		zap.Int("devices", len(snap.Terminal)),
		zap.Int("proxmox", len(snap.Virtualization)),
	)
	if w.onReload != nil {
		w.onReload(snap)
	}
	return nil
}

// Run watches the targets directory until ctx is cancelled. Bursts of events
// are collapsed into one reload.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dir := w.files.Dir
	if dir == "" {
		dir = "."
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	watched := map[string]struct{}{
		filepath.Clean(w.files.terminalPath()):       {},
		filepath.Clean(w.files.virtualizationPath()): {},
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, ok := watched[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("target file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-timer.C:
			_ = w.Reload()
		}
	}
}
