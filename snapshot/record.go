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
	"sync"
)

// record is one version of an object's value.
type record struct {
	id    ID
	value interface{}
	next  *record
}

// mergeOutcome says what a cell's merge function decided.
type mergeOutcome int

const (
	mergeConflict mergeOutcome = iota
	mergeCurrent
	mergeValue
)

// cell is the untyped part of every state object: the record chain,
// the merge function, and subscribers.
//
// The chain is guarded by mu.  Chain mutations additionally happen
// with the owning Manager's lock held.
type cell struct {
	mu   sync.RWMutex
	name string
	seq  uint64
	head *record

	// merge reconciles a concurrent write.  previous is the value
	// the applying snapshot started from, current is the newest
	// committed value, and applied is the applying snapshot's
	// value.
	merge func(previous, current, applied interface{}) (interface{}, mergeOutcome)

	subsMu  sync.Mutex
	subs    map[int]func(Object)
	nextSub int
}

// valid reports whether a record written at candidate can be seen by
// a snapshot with the given id and invalid set.
func valid(current, candidate ID, invalid IDSet) bool {
	return candidate != invalidID && candidate <= current && !invalid.Has(candidate)
}

// readable finds the newest record visible to (id, invalid).
func readable(r *record, id ID, invalid IDSet) *record {
	var candidate *record
	for ; r != nil; r = r.next {
		if valid(id, r.id, invalid) {
			if candidate == nil || candidate.id < r.id {
				candidate = r
			}
		}
	}
	return candidate
}

// used returns a record in c's chain that no open snapshot can see,
// or nil.  A record is unused if it was abandoned, or if a newer
// record below reuseLimit obscures it for every open snapshot.
//
// Called with c.mu held.
func (c *cell) used(reuseLimit ID) *record {
	var validRecord *record
	for r := c.head; r != nil; r = r.next {
		if r.id == invalidID {
			return r
		}
		if valid(reuseLimit, r.id, IDSet{}) {
			if validRecord == nil {
				validRecord = r
				continue
			}
			if r.id < validRecord.id {
				return r
			}
			return validRecord
		}
	}
	return nil
}

// overwritable returns a record ready to receive a new version,
// either a reused one or a new one prepended to the chain.  The
// returned record has reservedID until the caller stamps it.
//
// Called with c.mu held.
func (c *cell) overwritable(reuseLimit ID) *record {
	r := c.used(reuseLimit)
	if r != nil {
		r.id = reservedID
	} else {
		r = &record{
			id:   reservedID,
			next: c.head,
		}
		c.head = r
	}
	c.compact(reuseLimit, r)
	return r
}

// compact unlinks every record except keep that no open snapshot can
// see, so a chain that grew under contention shrinks on the next
// write.
//
// Called with c.mu held.
func (c *cell) compact(reuseLimit ID, keep *record) {
	var newest *record
	for r := c.head; r != nil; r = r.next {
		if valid(reuseLimit, r.id, IDSet{}) && (newest == nil || newest.id < r.id) {
			newest = r
		}
	}
	var prev *record
	for r := c.head; r != nil; r = r.next {
		if r != keep && r != newest && (r.id == invalidID || valid(reuseLimit, r.id, IDSet{})) {
			if prev == nil {
				c.head = r.next
			} else {
				prev.next = r.next
			}
			continue
		}
		prev = r
	}
}

// chainLength is used by tests to check that chains stay bounded.
func (c *cell) chainLength() int {
	c.mu.RLock()
	n := 0
	for r := c.head; r != nil; r = r.next {
		n++
	}
	c.mu.RUnlock()
	return n
}

func (c *cell) subscribe(f func(Object)) func() {
	c.subsMu.Lock()
	if c.subs == nil {
		c.subs = make(map[int]func(Object), 2)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = f
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *cell) notify(o Object) {
	c.subsMu.Lock()
	fs := make([]func(Object), 0, len(c.subs))
	for _, f := range c.subs {
		fs = append(fs, f)
	}
	c.subsMu.Unlock()
	for _, f := range fs {
		f(o)
	}
}
