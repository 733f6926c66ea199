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
	"sort"
	"sync/atomic"
)

// MutableSnapshot is a snapshot whose writes stay private until
// Apply.
//
// A MutableSnapshot is meant to be used by one goroutine at a time.
type MutableSnapshot struct {
	base

	parent *MutableSnapshot
	global bool

	// The following are guarded by m.mu.

	modified     map[Object]struct{}
	previousIDs  IDSet
	previousPins []ID

	// nested counts this snapshot plus its active nested
	// snapshots.  The snapshot is abandoned when it reaches zero
	// without an apply.
	nested      int
	applied     bool
	disposed    bool
	deactivated bool

	appliedFlag atomic.Bool
}

func (m *Manager) newMutable(id ID, invalid IDSet, readObs, writeObs func(Object), parent *MutableSnapshot) *MutableSnapshot {
	s := &MutableSnapshot{
		parent: parent,
		nested: 1,
	}
	s.init(m, id, invalid, readObs, writeObs)
	return s
}

func (s *MutableSnapshot) ReadOnly() bool {
	return false
}

// Applied reports whether Apply succeeded.
func (s *MutableSnapshot) Applied() bool {
	return s.appliedFlag.Load()
}

// Parent returns the snapshot this one is nested in, or nil.
func (s *MutableSnapshot) Parent() *MutableSnapshot {
	return s.parent
}

func (s *MutableSnapshot) check(op string) error {
	if s.disposedFlag.Load() || s.appliedFlag.Load() {
		return &DisposedSnapshotUseError{Snapshot: s.ID(), Op: op}
	}
	return nil
}

func (s *MutableSnapshot) writeTarget() (*MutableSnapshot, error) {
	if s.applied || s.disposed {
		return nil, &DisposedSnapshotUseError{Snapshot: s.ID(), Op: "write"}
	}
	return s, nil
}

func (s *MutableSnapshot) recordModifiedLocked(o Object) {
	if s.modified == nil {
		s.modified = make(map[Object]struct{}, 8)
	}
	s.modified[o] = struct{}{}
}

// Enter runs block with s.
func (s *MutableSnapshot) Enter(block func(Snapshot) error) error {
	if err := s.check("enter"); err != nil {
		return err
	}
	return block(s)
}

// HasPendingChanges reports whether s has unapplied writes.
func (s *MutableSnapshot) HasPendingChanges() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.modified) > 0
}

// Modified returns the objects s has written, in creation order.
func (s *MutableSnapshot) Modified() []Object {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return sortObjects(s.modified)
}

// TakeNestedSnapshot returns a read-only snapshot of s's current
// view.  Writes s makes afterwards aren't visible to it.
func (s *MutableSnapshot) TakeNestedSnapshot(readObserver func(Object)) (Snapshot, error) {
	if s.global {
		return s.m.TakeSnapshot(readObserver), nil
	}
	if err := s.check("take nested snapshot"); err != nil {
		return nil, err
	}
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	v := s.view()
	id := m.allocLocked()
	ro := m.newReadonly(id, v.invalid.AddRange(v.id+1, id), mergeObservers(readObserver, s.readObs))
	ro.parent = s
	m.pinLocked(&ro.base)
	s.nested++
	s.advanceLocked()
	m.gaugeLocked()
	return ro, nil
}

// TakeNestedMutableSnapshot returns a mutable snapshot nested in s.
// The nested snapshot sees s's writes so far.  Its own writes reach s
// only when it is applied, and reach everyone else only when s is
// applied.
func (s *MutableSnapshot) TakeNestedMutableSnapshot(readObserver, writeObserver func(Object)) (*MutableSnapshot, error) {
	if s.global {
		return s.m.TakeMutableSnapshot(readObserver, writeObserver), nil
	}
	if err := s.check("take nested mutable snapshot"); err != nil {
		return nil, err
	}
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	v := s.view()
	id := m.allocLocked()
	s.v.Store(&view{id: v.id, invalid: v.invalid.Set(id)})
	nested := m.newMutable(id, v.invalid.AddRange(v.id+1, id),
		mergeObservers(readObserver, s.readObs),
		mergeObservers(writeObserver, s.writeObs),
		s)
	m.pinLocked(&nested.base)
	s.nested++
	s.advanceLocked()
	m.gaugeLocked()
	return nested, nil
}

// advanceLocked gives s a new id so that writes s makes from now on
// are invisible to snapshots taken from it so far.
func (s *MutableSnapshot) advanceLocked() {
	v := s.view()
	s.previousIDs = s.previousIDs.Set(v.id)
	if s.applied || s.disposed {
		return
	}
	id := s.m.allocLocked()
	s.v.Store(&view{id: id, invalid: v.invalid.AddRange(v.id+1, id)})
}

// Apply commits s.  For a top-level snapshot, the writes become
// visible to every snapshot taken afterwards, and apply observers are
// notified.  For a nested snapshot, the writes move into the parent.
//
// If another snapshot committed a conflicting value to an object s
// wrote, and the object's policy can't merge, nothing is committed
// and the result carries an ApplyConflictError.  s stays open; the
// caller should Dispose it.
func (s *MutableSnapshot) Apply() ApplyResult {
	if s.global {
		return ApplyResult{Snapshot: s.ID(), Err: ErrGlobalApply}
	}
	if s.parent != nil {
		return s.applyNested()
	}

	m := s.m
	m.mu.Lock()
	if s.applied || s.disposed || !m.open.Has(s.ID()) {
		m.mu.Unlock()
		return m.applied(ApplyResult{Snapshot: s.ID(), Err: &DisposedSnapshotUseError{Snapshot: s.ID(), Op: "apply"}})
	}
	if s.nested > 1 {
		m.mu.Unlock()
		return m.applied(ApplyResult{Snapshot: s.ID(), Err: ErrNestedActive})
	}

	prev := m.global
	if len(s.modified) > 0 {
		if err := s.innerApplyLocked(m.nextID, m.open.Clear(prev.ID())); err != nil {
			m.mu.Unlock()
			m.Logger.Debug("apply conflict", "snapshot", s.ID(), "objects", err.Objects)
			return m.applied(ApplyResult{Snapshot: s.ID(), Err: err})
		}
	}

	s.closeLocked()
	m.advanceGlobalLocked()
	globalModified := prev.modified
	prev.modified = nil
	modified := s.modified
	s.modified = nil
	s.applied = true
	s.appliedFlag.Store(true)
	m.gaugeLocked()
	m.mu.Unlock()

	m.notify(globalModified, m.handle)
	m.notify(modified, s)

	m.mu.Lock()
	s.releasePinsLocked()
	m.mu.Unlock()

	return m.applied(ApplyResult{Snapshot: s.ID()})
}

func (s *MutableSnapshot) applyNested() ApplyResult {
	m := s.m
	p := s.parent

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.applied || s.disposed || !m.open.Has(s.ID()) {
		return m.applied(ApplyResult{Snapshot: s.ID(), Err: &DisposedSnapshotUseError{Snapshot: s.ID(), Op: "apply"}})
	}
	if p.applied || p.disposed {
		return m.applied(ApplyResult{Snapshot: s.ID(), Err: &DisposedSnapshotUseError{Snapshot: p.ID(), Op: "apply nested snapshot"}})
	}
	if s.nested > 1 {
		return m.applied(ApplyResult{Snapshot: s.ID(), Err: ErrNestedActive})
	}

	if len(s.modified) > 0 {
		pv := p.view()
		if err := s.innerApplyLocked(pv.id, pv.invalid); err != nil {
			return m.applied(ApplyResult{Snapshot: s.ID(), Err: err})
		}
		for o := range s.modified {
			p.recordModifiedLocked(o)
		}
	}

	if p.ID() < s.ID() {
		p.advanceLocked()
	}

	pv := p.view()
	p.v.Store(&view{id: pv.id, invalid: pv.invalid.Clear(s.ID()).AndNot(s.previousIDs)})
	p.previousIDs = p.previousIDs.Set(s.ID()).Or(s.previousIDs)

	// The parent now depends on records at s's ids, so it takes
	// over s's pins.
	if s.pinned {
		p.previousPins = append(p.previousPins, s.pin)
		s.pinned = false
	}
	p.previousPins = append(p.previousPins, s.previousPins...)
	s.previousPins = nil

	s.modified = nil
	s.applied = true
	s.appliedFlag.Store(true)
	s.deactivateLocked()

	return m.applied(ApplyResult{Snapshot: s.ID()})
}

// innerApplyLocked checks every modified object for concurrent
// commits.  current is what a snapshot at (snapshotID,
// invalidSnapshots) reads, previous is what s started from.
func (s *MutableSnapshot) innerApplyLocked(snapshotID ID, invalidSnapshots IDSet) *ApplyConflictError {
	m := s.m
	v := s.view()
	start := v.invalid.Set(v.id).Or(s.previousIDs)

	type pending struct {
		c     *cell
		value interface{}
	}

	var (
		merged    []pending
		reverted  []Object
		conflicts []string
	)

	for _, o := range sortObjects(s.modified) {
		c := o.cell()

		c.mu.RLock()
		current := readable(c.head, snapshotID, invalidSnapshots)
		previous := readable(c.head, v.id, start)
		var applied *record
		if current != nil && previous != nil && current != previous {
			applied = readable(c.head, v.id, v.invalid)
		}
		var pv, cv, av interface{}
		if applied != nil {
			pv, cv, av = previous.value, current.value, applied.value
		}
		c.mu.RUnlock()

		if applied == nil {
			continue
		}

		value, outcome := c.merge(pv, cv, av)
		switch outcome {
		case mergeCurrent:
			merged = append(merged, pending{c, cv})
			reverted = append(reverted, o)
		case mergeValue:
			merged = append(merged, pending{c, value})
		default:
			conflicts = append(conflicts, c.name)
		}
	}

	if len(conflicts) > 0 {
		return &ApplyConflictError{
			Snapshot: v.id,
			Objects:  conflicts,
		}
	}

	if len(merged) > 0 {
		s.advanceLocked()
		id := s.ID()
		limit := m.reuseLimitLocked()
		for _, p := range merged {
			p.c.mu.Lock()
			r := p.c.overwritable(limit)
			r.value = p.value
			r.id = id
			p.c.mu.Unlock()
		}
	}

	for _, o := range reverted {
		delete(s.modified, o)
	}

	return nil
}

func (s *MutableSnapshot) closeLocked() {
	m := s.m
	m.open = m.open.Clear(s.ID()).AndNot(s.previousIDs)
}

func (s *MutableSnapshot) releasePinsLocked() {
	if s.pinned {
		s.m.unpinLocked(s.pin)
		s.pinned = false
	}
	for _, pin := range s.previousPins {
		s.m.unpinLocked(pin)
	}
	s.previousPins = nil
}

// Dispose releases s.  If s was never applied, its writes are
// abandoned as soon as every nested snapshot is gone.
func (s *MutableSnapshot) Dispose() {
	if s.global {
		return
	}
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.disposedFlag.Store(true)
	s.nestedDeactivatedLocked()
	if s.parent != nil {
		s.deactivateLocked()
	}
	m.gaugeLocked()
}

func (s *MutableSnapshot) deactivateLocked() {
	if s.deactivated || s.parent == nil {
		return
	}
	s.deactivated = true
	s.parent.nestedDeactivatedLocked()
}

func (s *MutableSnapshot) nestedDeactivatedLocked() {
	s.nested--
	if s.nested > 0 {
		return
	}
	if !s.applied {
		s.abandonLocked()
	}
}

// abandonLocked makes every record s wrote invisible, and therefore
// reusable, then closes s.
func (s *MutableSnapshot) abandonLocked() {
	v := s.view()
	for o := range s.modified {
		c := o.cell()
		c.mu.Lock()
		for r := c.head; r != nil; r = r.next {
			if r.id == v.id || s.previousIDs.Has(r.id) {
				r.id = invalidID
			}
		}
		c.mu.Unlock()
	}
	s.modified = nil
	s.closeLocked()
	s.releasePinsLocked()
}

// sortObjects returns the objects in creation order.
func sortObjects(os map[Object]struct{}) []Object {
	acc := make([]Object, 0, len(os))
	for o := range os {
		acc = append(acc, o)
	}
	sort.Slice(acc, func(i, j int) bool {
		return acc[i].cell().seq < acc[j].cell().seq
	})
	return acc
}
