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

// Snapshot is an isolated view of every State.  Reads see the values
// committed when the snapshot was taken plus the snapshot's own
// writes.
//
// A Snapshot is passed explicitly to every State operation.  There is
// no implicit current snapshot.
type Snapshot interface {
	// ID is the snapshot's current id.  A mutable snapshot's id
	// advances when it takes nested snapshots or merges records.
	ID() ID

	// Invalid is the set of ids whose writes this snapshot can't
	// see.
	Invalid() IDSet

	ReadOnly() bool

	// Disposed reports whether Dispose was called.
	Disposed() bool

	// Dispose releases the snapshot.  Disposing an unapplied
	// mutable snapshot discards its writes.  Dispose is idempotent.
	Dispose()

	// TakeNestedSnapshot returns a read-only snapshot of this
	// snapshot's current view.
	TakeNestedSnapshot(readObserver func(Object)) (Snapshot, error)

	// HasPendingChanges reports whether the snapshot has writes
	// that haven't been applied.
	HasPendingChanges() bool

	// Enter runs block with this snapshot.  It fails without
	// calling block if the snapshot is closed.
	Enter(block func(Snapshot) error) error

	Manager() *Manager

	view() *view
	check(op string) error
	writeTarget() (*MutableSnapshot, error)
	observers() (read, write func(Object))
}

// view is an immutable (id, invalid) pair, swapped atomically so
// reads don't need the Manager's lock.
type view struct {
	id      ID
	invalid IDSet
}

type base struct {
	m        *Manager
	v        atomic.Pointer[view]
	readObs  func(Object)
	writeObs func(Object)

	// pin is the lowest id this snapshot may still read.  Guarded
	// by m.mu.
	pin    ID
	pinned bool

	disposedFlag atomic.Bool
}

func (b *base) init(m *Manager, id ID, invalid IDSet, readObs, writeObs func(Object)) {
	b.m = m
	b.readObs = readObs
	b.writeObs = writeObs
	b.v.Store(&view{id: id, invalid: invalid})
}

func (b *base) ID() ID {
	return b.v.Load().id
}

func (b *base) Invalid() IDSet {
	return b.v.Load().invalid
}

func (b *base) Manager() *Manager {
	return b.m
}

func (b *base) Disposed() bool {
	return b.disposedFlag.Load()
}

func (b *base) view() *view {
	return b.v.Load()
}

func (b *base) observers() (func(Object), func(Object)) {
	return b.readObs, b.writeObs
}

// ApplyResult is the outcome of MutableSnapshot.Apply.
type ApplyResult struct {
	Snapshot ID
	Err      error
}

// Succeeded reports whether the apply committed.
func (r ApplyResult) Succeeded() bool {
	return r.Err == nil
}

// Check returns the apply's error, if any.
func (r ApplyResult) Check() error {
	return r.Err
}

// Conflicts returns the names of conflicting objects.
func (r ApplyResult) Conflicts() []string {
	if ce, is := r.Err.(*ApplyConflictError); is {
		return ce.Objects
	}
	return nil
}

// mergeObservers returns an observer that calls both, or whichever
// isn't nil.
func mergeObservers(a, b func(Object)) func(Object) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(o Object) {
		a(o)
		b(o)
	}
}
