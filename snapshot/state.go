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
	"fmt"
)

// Object is a state object managed by snapshots.  The only
// implementation is State.
type Object interface {
	// Name identifies the object in errors and logs.
	Name() string

	cell() *cell
}

// State is a mutable cell whose value is versioned by snapshots.
//
// Every read and write goes through an explicit Snapshot.  Values
// should be treated as immutable: a write replaces the value, it
// doesn't edit it.
type State[T any] struct {
	c      cell
	policy Policy[T]
}

// NewState makes a State in the given snapshot.  The State is only
// visible to snapshots that can see s's writes.  A nil policy means
// StructuralEquality.
func NewState[T any](s Snapshot, name string, initial T, policy Policy[T]) (*State[T], error) {
	if policy == nil {
		policy = StructuralEquality[T]()
	}
	m := s.Manager()
	st := &State[T]{
		policy: policy,
	}
	st.c.name = name
	st.c.seq = m.seq.Add(1)
	st.c.merge = func(previous, current, applied interface{}) (interface{}, mergeOutcome) {
		p, c, a := as[T](previous), as[T](current), as[T](applied)
		if merged, ok := policy.Merge(p, c, a); ok {
			if policy.Equivalent(merged, c) {
				return current, mergeCurrent
			}
			return merged, mergeValue
		}
		if policy.Equivalent(c, a) {
			return current, mergeCurrent
		}
		return nil, mergeConflict
	}
	if err := m.create(s, st, initial); err != nil {
		return nil, err
	}
	return st, nil
}

// as converts a stored value back to T, tolerating nil for interface
// and pointer types.
func as[T any](x interface{}) T {
	if x == nil {
		var zero T
		return zero
	}
	return x.(T)
}

// Name returns the name given to NewState.
func (st *State[T]) Name() string {
	return st.c.name
}

func (st *State[T]) cell() *cell {
	return &st.c
}

// Policy returns the State's merge policy.
func (st *State[T]) Policy() Policy[T] {
	return st.policy
}

// Read returns the value visible in s and reports the read to s's
// read observer.
func (st *State[T]) Read(s Snapshot) (T, error) {
	x, err := s.Manager().read(s, st, true)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](x), nil
}

// Get is Read that panics on error.
func (st *State[T]) Get(s Snapshot) T {
	v, err := st.Read(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Write sets the value in s.  Writing a value the policy considers
// equivalent to the visible one does nothing: no new record, no
// observers, no invalidation.
func (st *State[T]) Write(s Snapshot, v T) error {
	m := s.Manager()
	x, err := m.read(s, st, false)
	if err != nil {
		return err
	}
	if st.policy.Equivalent(as[T](x), v) {
		return nil
	}
	return m.write(s, st, v)
}

// Set is Write that panics on error.
func (st *State[T]) Set(s Snapshot, v T) {
	if err := st.Write(s, v); err != nil {
		panic(err)
	}
}

// Update writes f applied to the current value.  The read isn't
// reported to s's read observer.
func (st *State[T]) Update(s Snapshot, f func(T) T) error {
	x, err := s.Manager().read(s, st, false)
	if err != nil {
		return err
	}
	return st.Write(s, f(as[T](x)))
}

// Subscribe registers f to be called after every successful apply
// that changed this State.  The returned function cancels the
// subscription.
func (st *State[T]) Subscribe(f func(Object)) func() {
	return st.c.subscribe(f)
}

func (st *State[T]) String() string {
	return fmt.Sprintf("State(%s)", st.c.name)
}
