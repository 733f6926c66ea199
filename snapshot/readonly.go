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

// readonlySnapshot is a point-in-time view.  It never blocks writers.
type readonlySnapshot struct {
	base

	// parent is set for a snapshot nested in a mutable snapshot.
	parent *MutableSnapshot

	// outer is set for a snapshot nested in another read-only
	// snapshot, which it shares an id with.
	outer *readonlySnapshot

	// Guarded by m.mu.
	nested      int
	disposed    bool
	deactivated bool
}

func (m *Manager) newReadonly(id ID, invalid IDSet, readObs func(Object)) *readonlySnapshot {
	s := &readonlySnapshot{
		nested: 1,
	}
	s.init(m, id, invalid, readObs, nil)
	return s
}

func (s *readonlySnapshot) ReadOnly() bool {
	return true
}

func (s *readonlySnapshot) HasPendingChanges() bool {
	return false
}

func (s *readonlySnapshot) check(op string) error {
	if s.disposedFlag.Load() {
		return &DisposedSnapshotUseError{Snapshot: s.ID(), Op: op}
	}
	return nil
}

func (s *readonlySnapshot) writeTarget() (*MutableSnapshot, error) {
	return nil, &ReadOnlyWriteError{Snapshot: s.ID()}
}

func (s *readonlySnapshot) Enter(block func(Snapshot) error) error {
	if err := s.check("enter"); err != nil {
		return err
	}
	return block(s)
}

// TakeNestedSnapshot returns a read-only snapshot with the same view.
func (s *readonlySnapshot) TakeNestedSnapshot(readObserver func(Object)) (Snapshot, error) {
	if err := s.check("take nested snapshot"); err != nil {
		return nil, err
	}
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	v := s.view()
	n := m.newReadonly(v.id, v.invalid, mergeObservers(readObserver, s.readObs))
	n.outer = s
	s.nested++
	return n, nil
}

func (s *readonlySnapshot) Dispose() {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.disposedFlag.Store(true)
	s.nestedDeactivatedLocked()
	if !s.deactivated {
		s.deactivated = true
		switch {
		case s.outer != nil:
			s.outer.nestedDeactivatedLocked()
		case s.parent != nil:
			s.parent.nestedDeactivatedLocked()
		}
	}
	m.gaugeLocked()
}

func (s *readonlySnapshot) nestedDeactivatedLocked() {
	s.nested--
	if s.nested > 0 || s.outer != nil {
		return
	}
	m := s.m
	m.open = m.open.Clear(s.ID())
	if s.pinned {
		m.unpinLocked(s.pin)
		s.pinned = false
	}
}
