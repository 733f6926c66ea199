/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long the program file must be quiet before a
// change is reloaded.
var WatchDebounce = 100 * time.Millisecond

// watch reloads the program when its file changes.  The directory is
// watched since editors often replace files rather than write them.
func (h *Host) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	target := filepath.Clean(h.Conf.Program)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	h.Logger.Debug("watching", "program", target)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.Logger.Warn("watch error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(WatchDebounce)
			} else {
				timer.Reset(WatchDebounce)
			}
			reload = timer.C
		case <-reload:
			reload = nil
			if err := h.Reload(ctx); err != nil {
				h.reportf("reload %s: %s", target, err)
			}
		}
	}
}
