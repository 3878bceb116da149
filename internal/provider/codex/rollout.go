package codex

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/chorus/internal/log"
)

// Codex appends every session to a rollout file under ~/.codex/sessions,
// sharded into dated subdirectories. The newest file by mtime is the resume
// target. RolloutTracker watches the tree so Latest is a map lookup instead
// of a directory walk on every turn; when the watcher is not running (or has
// seen nothing yet) it falls back to walking.
type RolloutTracker struct {
	root string

	mu        sync.RWMutex
	latest    string
	latestMod time.Time
	watching  bool
}

// DefaultRolloutRoot returns ~/.codex/sessions, empty when the home
// directory is unavailable.
func DefaultRolloutRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

// NewRolloutTracker creates a tracker rooted at dir.
func NewRolloutTracker(dir string) *RolloutTracker {
	return &RolloutTracker{root: dir}
}

// Start begins watching the rollout tree. It returns without error when the
// root does not exist yet; Latest then walks on demand.
func (t *RolloutTracker) Start() error {
	if t.root == "" {
		return nil
	}
	if _, err := os.Stat(t.root); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the whole tree; codex creates a new dated subdirectory per day.
	err = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := watcher.Add(path); werr != nil {
				log.Debug(log.CatCodex, "failed to watch rollout dir",
					"path", path, "error", werr)
			}
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	t.mu.Lock()
	t.watching = true
	t.mu.Unlock()

	go t.watch(watcher)
	return nil
}

func (t *RolloutTracker) watch(watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				t.mu.Lock()
				t.watching = false
				t.mu.Unlock()
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if werr := watcher.Add(ev.Name); werr != nil {
					log.Debug(log.CatCodex, "failed to watch rollout dir",
						"path", ev.Name, "error", werr)
				}
				continue
			}
			t.record(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Debug(log.CatCodex, "rollout watcher error", "error", err)
		}
	}
}

// record notes a rollout file if it is newer than the current latest.
func (t *RolloutTracker) record(path string) {
	if !isRolloutFile(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if info.ModTime().After(t.latestMod) || t.latest == "" {
		t.latest = path
		t.latestMod = info.ModTime()
	}
}

// Latest returns the newest rollout file path, empty when none exists.
func (t *RolloutTracker) Latest() string {
	t.mu.RLock()
	latest, watching := t.latest, t.watching
	t.mu.RUnlock()

	if latest != "" && watching {
		return latest
	}
	return latestRollout(t.root)
}

// latestRollout walks the tree for the newest rollout-*.jsonl by mtime.
func latestRollout(root string) string {
	if root == "" {
		return ""
	}

	var newest string
	var newestMod time.Time
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isRolloutFile(path) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	return newest
}

func isRolloutFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "rollout-") && strings.HasSuffix(base, ".jsonl")
}
