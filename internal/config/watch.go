package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

// Watcher reloads a config file when it changes on disk and hands the
// validated result to the callback. Invalid edits are logged and ignored.
type Watcher struct {
	path     string
	onChange func(Config)
	watcher  *fsnotify.Watcher

	closeOnce sync.Once
	closed    chan struct{}
}

// Watch starts watching path. The parent directory is watched so editors
// that replace the file on save are still seen.
func Watch(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		watcher:  fw,
		closed:   make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop() {
	// Editors emit bursts of writes; coalesce them.
	var pending <-chan time.Time
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending = time.After(100 * time.Millisecond)
			}
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				log.Warnf("reload %s failed: %v", w.path, err)
				continue
			}
			log.Infof("reloaded %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher error: %v", err)
		}
	}
}
