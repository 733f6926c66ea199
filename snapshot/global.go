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

package snapshot

// globalHandle is the stable Snapshot returned by Manager.Global.
// The underlying global snapshot is replaced every time the Manager
// advances, so the handle resolves it on each call.
type globalHandle struct {
	m *Manager
}

func (g *globalHandle) target() *MutableSnapshot {
	return g.m.current.Load()
}

func (g *globalHandle) ID() ID {
	return g.target().ID()
}

func (g *globalHandle) Invalid() IDSet {
	return g.target().Invalid()
}

func (g *globalHandle) ReadOnly() bool {
	return false
}

func (g *globalHandle) Disposed() bool {
	return false
}

// Dispose does nothing.  The global snapshot lives as long as its
// Manager.
func (g *globalHandle) Dispose() {
}

func (g *globalHandle) TakeNestedSnapshot(readObserver func(Object)) (Snapshot, error) {
	return g.m.TakeSnapshot(readObserver), nil
}

func (g *globalHandle) HasPendingChanges() bool {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return len(g.m.global.modified) > 0
}

func (g *globalHandle) Enter(block func(Snapshot) error) error {
	return block(g)
}

func (g *globalHandle) Manager() *Manager {
	return g.m
}

func (g *globalHandle) view() *view {
	return g.target().view()
}

func (g *globalHandle) check(op string) error {
	return nil
}

// writeTarget is called with m.mu held, so m.global is current.
func (g *globalHandle) writeTarget() (*MutableSnapshot, error) {
	return g.m.global, nil
}

func (g *globalHandle) observers() (func(Object), func(Object)) {
	return nil, nil
}

func (g *globalHandle) String() string {
	return "global"
}
