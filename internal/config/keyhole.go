package config

import (
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// KeyholeTemplateWatcher holds the operator-supplied PostGIS "keyhole"
// SQL fragment used by directional/beam invalidation (spec §4.7
// "Directional (beam)", §9 Open Question (a): "document the deployed
// template" rather than hardcode its geometry). When the template is
// backed by a file, the watcher hot-reloads it on write so a deployment
// can retune the keyhole shape without restarting rcache.
//
// Grounded on fsnotify/fsnotify, a direct dependency of gollum (pulled in
// transitively through viper's file-watching and used directly here for
// the same "watch a config file" concern).
type KeyholeTemplateWatcher struct {
	current atomic.Value // string
	watcher *fsnotify.Watcher
}

// NewKeyholeTemplateWatcher seeds the watcher from a literal template
// string (the common case: keyhole_template set directly in settings). If
// path is non-empty, the literal is ignored and the template is instead
// loaded from, and watched at, that file path.
func NewKeyholeTemplateWatcher(literal, path string) (*KeyholeTemplateWatcher, error) {
	w := &KeyholeTemplateWatcher{}
	w.current.Store(literal)
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(string(data))

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	go w.run(path)
	return w, nil
}

func (w *KeyholeTemplateWatcher) run(path string) {
	for event := range w.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		if data, err := os.ReadFile(path); err == nil {
			w.current.Store(string(data))
		}
	}
}

// Template returns the current keyhole SQL fragment.
func (w *KeyholeTemplateWatcher) Template() string {
	v, _ := w.current.Load().(string)
	return v
}

// Close stops the underlying file watch, if one was started.
func (w *KeyholeTemplateWatcher) Close() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}
