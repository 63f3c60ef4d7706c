package assets

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

var ErrWatcherClosed = errors.New("shader watcher already closed")

type SourceInfo struct {
	Path     string
	Language rhi.ShaderLanguage
	Modified time.Time
}

// ShaderWatcher indexes the shader sources below a directory and collects
// the ones edited on disk until Drain is called. An edited include file
// marks every indexed source dirty.
type ShaderWatcher struct {
	sources map[string]SourceInfo
	dirty   map[string]struct{}

	mutex sync.Mutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewShaderWatcher(dir string) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ShaderWatcher{
		sources:  make(map[string]SourceInfo),
		dirty:    make(map[string]struct{}),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := w.watchRecursive(dir); err != nil {
		fsWatch.Close()
		return nil, err
	}
	go w.start()
	core.LogDebug("watching %d shader sources in %s", len(w.sources), dir)
	return w, nil
}

// Sources returns the indexed shader sources sorted by path.
func (w *ShaderWatcher) Sources() []SourceInfo {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	out := make([]SourceInfo, 0, len(w.sources))
	for _, s := range w.sources {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b SourceInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Drain returns the sources edited since the previous call, sorted.
func (w *ShaderWatcher) Drain() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if len(w.dirty) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		out = append(out, p)
	}
	clear(w.dirty)
	slices.Sort(out)
	return out
}

func (w *ShaderWatcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return ErrWatcherClosed
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	<-w.stopped
	return nil
}

func (w *ShaderWatcher) start() {
	defer close(w.stopped)
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			w.handleEvent(e)

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err)

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *ShaderWatcher) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := w.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err)
			}
			return
		}
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		w.handleFileEvent(e.Name, true)
	}
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.removeSource(e.Name)
	}
}

// watchRecursive adds dir and its sub-directories to the watch list and
// indexes the sources already present.
func (w *ShaderWatcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsnotify.Add(path)
		}
		w.handleFileEvent(path, false)
		return nil
	})
}

func (w *ShaderWatcher) handleFileEvent(path string, edited bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if isInclude(abs) {
		if edited {
			for p := range w.sources {
				w.dirty[p] = struct{}{}
			}
		}
		return
	}
	lang := rhi.ShaderSrc{Path: abs}.DetectLanguage()
	if lang == rhi.LanguageUnknown {
		return
	}
	w.sources[abs] = SourceInfo{Path: abs, Language: lang, Modified: time.Now()}
	if edited {
		w.dirty[abs] = struct{}{}
	}
}

func (w *ShaderWatcher) removeSource(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()

	delete(w.sources, abs)
	delete(w.dirty, abs)
}

func isInclude(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hlsli", ".inc":
		return true
	}
	return false
}
