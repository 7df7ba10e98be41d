// Package watcher observes workstream working trees and attaches file
// change observations to the agent's active run. It is a collaborator on
// top of the core: the adapters and health logic never depend on it.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sidmohan0/kanbun/pkg/protocol"
	"github.com/sidmohan0/kanbun/pkg/store"
)

// ignoredDirs are tree names that generate noise, never signal: VCS
// bookkeeping and dependency/build output.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	".next":        true,
	"dist":         true,
	"__pycache__":  true,
}

// ignoredFiles are filenames dropped outright.
var ignoredFiles = map[string]bool{
	".DS_Store": true,
}

// Watcher maps filesystem events under watched roots to file change rows
// on the owning agent's active run.
type Watcher struct {
	store *store.Store
	fsw   *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]string // watched root -> agent id
}

// New creates a watcher. Call Run to start consuming events.
func New(st *store.Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		store: st,
		fsw:   fsw,
		roots: make(map[string]string),
	}, nil
}

// Watch registers a directory tree for an agent. All non-ignored
// subdirectories are registered too, since inotify-style watches are not
// recursive.
func (w *Watcher) Watch(agentID, root string) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	w.mu.Lock()
	w.roots[root] = agentID
	w.mu.Unlock()
	return nil
}

// Run consumes filesystem events until the context is cancelled or the
// watcher is closed. Intended to run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "warning: fs watcher: %v\n", err)
		}
	}
}

// Close stops the underlying watcher. Run returns shortly after.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if ignoredPath(path) {
		return
	}

	agentID := w.ownerOf(path)
	if agentID == "" {
		return
	}

	// Directories created under a watched root join the watch set so
	// deeper changes keep flowing.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !ignoredDirs[filepath.Base(path)] {
				_ = w.fsw.Add(path)
			}
			return
		}
	}

	changeType, ok := classify(ev.Op)
	if !ok {
		return
	}
	if err := w.store.RecordFileChange(ctx, agentID, protocol.FileChange{
		Path:       path,
		ChangeType: changeType,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: record file change %s: %v\n", path, err)
	}
}

// ownerOf resolves a path to the agent owning the longest matching root.
func (w *Watcher) ownerOf(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var roots []string
	for root := range w.roots {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })

	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return w.roots[root]
		}
	}
	return ""
}

func classify(op fsnotify.Op) (protocol.FileChangeType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return protocol.FileCreated, true
	case op.Has(fsnotify.Write):
		return protocol.FileModified, true
	case op.Has(fsnotify.Remove):
		return protocol.FileDeleted, true
	case op.Has(fsnotify.Rename):
		return protocol.FileRenamed, true
	default:
		// Chmod and friends carry no content signal.
		return "", false
	}
}

func ignoredPath(path string) bool {
	if ignoredFiles[filepath.Base(path)] {
		return true
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoredDirs[part] {
			return true
		}
	}
	return false
}
