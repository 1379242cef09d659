package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/pkg/logging"
)

// Watcher observes one workspace's file tree and publishes debounced
// file-change events on the bus. It complements the tool-result signal from
// the stream adapter: edits made outside a turn (formatters, git operations,
// other processes) still reach the IDE.
type Watcher struct {
	workspaceID string
	root        string
	bus         *events.Bus
	ignore      []string
	debounce    time.Duration

	fw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	done chan struct{}
}

// New builds a watcher rooted at the workspace directory. Subdirectories are
// registered recursively; newly created directories are picked up as they
// appear.
func New(workspaceID, root string, cfg appconfig.WatcherConfig, bus *events.Bus) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		workspaceID: workspaceID,
		root:        root,
		bus:         bus,
		ignore:      cfg.IgnoreGlobs,
		debounce:    cfg.Debounce(),
		fw:          fw,
		pending:     make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run consumes FS events until the context is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Warn(ctx, "watcher.error", map[string]interface{}{
				"workspace_id": w.workspaceID,
				"error":        err.Error(),
			})
		}
	}
}

// Close stops the watcher and flushes nothing further.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.fw.Close()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)

	if w.ignored(rel) {
		return
	}

	// Track new directories so nested edits keep arriving.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				logging.Warn(ctx, "watcher.add_failed", map[string]interface{}{
					"path":  ev.Name,
					"error": err.Error(),
				})
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	w.pending[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	}
	w.mu.Unlock()
}

// flush publishes one coalesced event for the accumulated paths.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}

	w.bus.PublishFileChange(events.FileChange{
		WorkspaceID: w.workspaceID,
		Paths:       paths,
	})
}

func (w *Watcher) ignored(rel string) bool {
	for _, glob := range w.ignore {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
		// A glob like ".git/**" should also suppress events on ".git"
		// itself.
		if prefix, cut := strings.CutSuffix(glob, "/**"); cut && rel == prefix {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.root, path)
		if rerr == nil && w.ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}
