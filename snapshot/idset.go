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
	"strconv"
	"strings"

	"github.com/xiaq/persistent/hash"
	"github.com/xiaq/persistent/hashmap"
)

// ID identifies a snapshot.  Ids are allocated in increasing order by
// a Manager.
type ID int64

const (
	// invalidID marks a record that no snapshot can see.  Abandoned
	// records get this id, which makes them reusable.
	invalidID ID = 0

	// reservedID marks a record that is being (re)initialized.  It
	// is larger than any snapshot id, so the record is invisible.
	reservedID ID = 1<<63 - 1
)

var emptyIDs = hashmap.New(
	func(a, b interface{}) bool { return a.(ID) == b.(ID) },
	func(k interface{}) uint32 { return hash.UInt64(uint64(k.(ID))) })

// IDSet is a persistent set of snapshot ids.  Every operation returns
// a new set and leaves the receiver unchanged, so sets can be shared
// freely between snapshots.
//
// The zero value is the empty set.
type IDSet struct {
	m hashmap.Map
}

func (s IDSet) ids() hashmap.Map {
	if s.m == nil {
		return emptyIDs
	}
	return s.m
}

// Has reports whether id is in the set.
func (s IDSet) Has(id ID) bool {
	if s.m == nil {
		return false
	}
	_, have := s.m.Index(id)
	return have
}

// Set returns a set that also contains id.
func (s IDSet) Set(id ID) IDSet {
	if s.Has(id) {
		return s
	}
	return IDSet{s.ids().Assoc(id, struct{}{})}
}

// Clear returns a set without id.
func (s IDSet) Clear(id ID) IDSet {
	if !s.Has(id) {
		return s
	}
	return IDSet{s.m.Dissoc(id)}
}

// Or returns the union.
func (s IDSet) Or(o IDSet) IDSet {
	if o.Len() == 0 {
		return s
	}
	if s.Len() == 0 {
		return o
	}
	acc := s
	o.each(func(id ID) {
		acc = acc.Set(id)
	})
	return acc
}

// AndNot returns the ids in s that are not in o.
func (s IDSet) AndNot(o IDSet) IDSet {
	if o.Len() == 0 || s.Len() == 0 {
		return s
	}
	acc := s
	o.each(func(id ID) {
		acc = acc.Clear(id)
	})
	return acc
}

// AddRange adds the ids in [from, until).
func (s IDSet) AddRange(from, until ID) IDSet {
	acc := s
	for id := from; id < until; id++ {
		acc = acc.Set(id)
	}
	return acc
}

// Len is the number of ids in the set.
func (s IDSet) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// Lowest returns the smallest id in the set, or def if the set is
// empty or every id is larger than def.
func (s IDSet) Lowest(def ID) ID {
	low := def
	s.each(func(id ID) {
		if id < low {
			low = id
		}
	})
	return low
}

func (s IDSet) each(f func(ID)) {
	if s.m == nil {
		return
	}
	for it := s.m.Iterator(); it.HasElem(); it.Next() {
		k, _ := it.Elem()
		f(k.(ID))
	}
}

// Slice returns the ids in ascending order.
func (s IDSet) Slice() []ID {
	acc := make([]ID, 0, s.Len())
	s.each(func(id ID) {
		acc = append(acc, id)
	})
	sort.Slice(acc, func(i, j int) bool { return acc[i] < acc[j] })
	return acc
}

func (s IDSet) String() string {
	ids := s.Slice()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
