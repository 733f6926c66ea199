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

import (
	"sync/atomic"
)

// transparentSnapshot reads and writes through to its parent while
// reporting to additional observers.
type transparentSnapshot struct {
	parent   Snapshot
	readObs  func(Object)
	writeObs func(Object)
	disposed atomic.Bool
}

// Observe returns a snapshot that behaves exactly like parent but
// also calls the given observers.  Disposing the returned snapshot
// doesn't dispose parent.
func (m *Manager) Observe(parent Snapshot, readObserver, writeObserver func(Object)) Snapshot {
	if parent == nil {
		parent = m.handle
	}
	return &transparentSnapshot{
		parent:   parent,
		readObs:  readObserver,
		writeObs: writeObserver,
	}
}

func (t *transparentSnapshot) ID() ID {
	return t.parent.ID()
}

func (t *transparentSnapshot) Invalid() IDSet {
	return t.parent.Invalid()
}

func (t *transparentSnapshot) ReadOnly() bool {
	return t.parent.ReadOnly()
}

func (t *transparentSnapshot) Disposed() bool {
	return t.disposed.Load() || t.parent.Disposed()
}

func (t *transparentSnapshot) Dispose() {
	t.disposed.Store(true)
}

func (t *transparentSnapshot) TakeNestedSnapshot(readObserver func(Object)) (Snapshot, error) {
	if err := t.check("take nested snapshot"); err != nil {
		return nil, err
	}
	return t.parent.TakeNestedSnapshot(mergeObservers(readObserver, t.readObs))
}

func (t *transparentSnapshot) HasPendingChanges() bool {
	return t.parent.HasPendingChanges()
}

func (t *transparentSnapshot) Enter(block func(Snapshot) error) error {
	if err := t.check("enter"); err != nil {
		return err
	}
	return block(t)
}

func (t *transparentSnapshot) Manager() *Manager {
	return t.parent.Manager()
}

func (t *transparentSnapshot) view() *view {
	return t.parent.view()
}

func (t *transparentSnapshot) check(op string) error {
	if t.disposed.Load() {
		return &DisposedSnapshotUseError{Snapshot: t.ID(), Op: op}
	}
	return t.parent.check(op)
}

func (t *transparentSnapshot) writeTarget() (*MutableSnapshot, error) {
	return t.parent.writeTarget()
}

func (t *transparentSnapshot) observers() (func(Object), func(Object)) {
	r, w := t.parent.observers()
	return mergeObservers(t.readObs, r), mergeObservers(t.writeObs, w)
}
