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

package slots

import (
	"sync/atomic"
)

// MinGrowth is the smallest number of groups a Writer's buffer grows
// by.
var MinGrowth = 32

// Kind distinguishes plain groups from groups that own an emitted
// node.
type Kind int8

const (
	KindGroup Kind = iota
	KindNode
)

func (k Kind) String() string {
	if k == KindNode {
		return "node"
	}
	return "group"
}

// Group is one entry in the table.
type Group struct {
	// Key identifies the group among its siblings.  Keys must be
	// comparable.
	Key interface{}

	Kind Kind

	// Size is the number of groups in the subtree, including this
	// one.
	Size int

	// Nodes is the number of nodes this group contributes to the
	// nearest enclosing node: 1 for a node group, and the sum over
	// its children otherwise.
	Nodes int

	// Node is the emitted node of a node group.
	Node interface{}

	// Data is auxiliary data, typically a recompose scope.
	Data interface{}
}

// Anchor tracks a group's position across edits.
type Anchor struct {
	id uint64
}

var anchorIDs atomic.Uint64

func newAnchor() *Anchor {
	return &Anchor{id: anchorIDs.Add(1)}
}

type entry struct {
	Group
	slots  []interface{}
	anchor *Anchor
}

// shape is an immutable published table.
type shape struct {
	entries []entry
	anchors map[*Anchor]int
}

var emptyShape = &shape{}

func (s *shape) location(a *Anchor) int {
	if i, have := s.anchors[a]; have {
		return i
	}
	return -1
}

// Table is the slot table.
type Table struct {
	current atomic.Pointer[shape]
	writing atomic.Bool
}

// NewTable makes an empty table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(emptyShape)
	return t
}

func (t *Table) shape() *shape {
	if s := t.current.Load(); s != nil {
		return s
	}
	return emptyShape
}

// Len is the number of groups in the published table.
func (t *Table) Len() int {
	return len(t.shape().entries)
}

// Location is the index of the anchored group in the published
// table, or -1 if the group was removed.
func (t *Table) Location(a *Anchor) int {
	return t.shape().location(a)
}

// OpenReader returns a Reader over the published table.
func (t *Table) OpenReader() *Reader {
	return &Reader{s: t.shape()}
}

// OpenWriter returns the table's Writer.  Only one Writer can be open
// at a time.
func (t *Table) OpenWriter() (*Writer, error) {
	if !t.writing.CompareAndSwap(false, true) {
		return nil, &ConcurrentWriterError{}
	}
	return newWriter(t, t.shape()), nil
}

// Read calls f with a Reader that is closed when f returns.
func (t *Table) Read(f func(*Reader) error) error {
	r := t.OpenReader()
	defer r.Close()
	return f(r)
}

// Write calls f with a Writer.  The edits are published if f returns
// nil and discarded if f returns an error or panics.  A panic is
// re-raised after the edits are discarded.
func (t *Table) Write(f func(*Writer) error) error {
	w, err := t.OpenWriter()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()
	if err := f(w); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (t *Table) publish(s *shape) {
	t.current.Store(s)
	t.writing.Store(false)
}

func (t *Table) release() {
	t.writing.Store(false)
}

// Reader is a read-only view of a published table.  Later commits
// don't affect it.
type Reader struct {
	s      *shape
	closed bool
}

// Close releases the Reader.
func (r *Reader) Close() {
	r.closed = true
	r.s = nil
}

// Len is the number of groups.
func (r *Reader) Len() (int, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	return len(r.s.entries), nil
}

// Group returns the group at index.
func (r *Reader) Group(index int) (Group, error) {
	if r.closed {
		return Group{}, ErrReaderClosed
	}
	if index < 0 || index >= len(r.s.entries) {
		return Group{}, integrity("group", index, "out of range")
	}
	return r.s.entries[index].Group, nil
}

// Slots returns a copy of the slots of the group at index.
func (r *Reader) Slots(index int) ([]interface{}, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if index < 0 || index >= len(r.s.entries) {
		return nil, integrity("slots", index, "out of range")
	}
	return append([]interface{}(nil), r.s.entries[index].slots...), nil
}

// Location is the index of the anchored group, or -1.
func (r *Reader) Location(a *Anchor) (int, error) {
	if r.closed {
		return -1, ErrReaderClosed
	}
	return r.s.location(a), nil
}

// Children returns the indexes of the direct children of the group at
// index.  An index of -1 means the roots.
func (r *Reader) Children(index int) ([]int, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	es := r.s.entries
	start, end := 0, len(es)
	if index >= 0 {
		if index >= len(es) {
			return nil, integrity("children", index, "out of range")
		}
		start, end = index+1, index+es[index].Size
	}
	var acc []int
	for i := start; i < end; i += es[i].Size {
		acc = append(acc, i)
	}
	return acc, nil
}

// Walk calls f for every group in pre-order with its depth.
func (r *Reader) Walk(f func(index, depth int, g Group, slots []interface{}) error) error {
	if r.closed {
		return ErrReaderClosed
	}
	es := r.s.entries
	var ends []int
	for i := range es {
		for len(ends) > 0 && ends[len(ends)-1] <= i {
			ends = ends[:len(ends)-1]
		}
		if err := f(i, len(ends), es[i].Group, es[i].slots); err != nil {
			return err
		}
		ends = append(ends, i+es[i].Size)
	}
	return nil
}
