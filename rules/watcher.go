/* Copyright (c) 2017 Jason Ish
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 *
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED ``AS IS'' AND ANY EXPRESS OR IMPLIED
 * WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
 * DISCLAIMED. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY DIRECT,
 * INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
 * (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
 * SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
 * STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING
 * IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package rules

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jasonish/icsdpi/log"
	"github.com/pkg/errors"
)

// Watcher calls a reload function when any of a set of rule paths change.
// Bursts of events within the debounce interval cause a single reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	reload   func() error

	// Exact files, directories whose *.rules files count, and glob
	// patterns.
	files    map[string]bool
	dirs     map[string]bool
	patterns []string
}

// NewWatcher watches paths, which may be files, directories or globs as
// accepted by NewRuleMap. The parent directory of each file is watched so
// files replaced by a rename are picked up.
func NewWatcher(paths []string, debounce time.Duration, reload func() error) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	w := &Watcher{
		watcher:  watcher,
		debounce: debounce,
		reload:   reload,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}

	watched := make(map[string]bool)
	watch := func(dir string) error {
		if watched[dir] {
			return nil
		}
		watched[dir] = true
		return errors.Wrapf(watcher.Add(dir), "failed to watch %s", dir)
	}

	for _, path := range paths {
		path = filepath.Clean(path)
		var dir string
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.dirs[path] = true
			dir = path
		} else if err == nil {
			w.files[path] = true
			dir = filepath.Dir(path)
		} else {
			w.patterns = append(w.patterns, path)
			dir = filepath.Dir(path)
		}
		if err := watch(dir); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	if w.files[name] {
		return true
	}
	if filepath.Ext(name) == ".rules" && w.dirs[filepath.Dir(name)] {
		return true
	}
	for _, pattern := range w.patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Run processes events until the context is cancelled. A failed reload is
// logged; the caller's current rules stay in place.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug("Rule file event: %s", event)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warning("Rule watcher error: %v", err)
		case <-fire:
			fire = nil
			log.Info("Rule files changed, reloading")
			if err := w.reload(); err != nil {
				log.Error("Failed to reload rules, keeping current rules: %v", err)
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
