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

// Writer edits a private copy of a Table.  Edits happen at a cursor
// that moves in pre-order: StartGroup enters the group at the cursor,
// EndGroup leaves it, and SkipGroup steps over it.  Between
// BeginInsert and EndInsert, StartGroup creates groups at the cursor
// instead.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	t *Table

	// buf is a gap buffer: buf[gapStart:gapStart+gapLen] is unused.
	buf      []entry
	gapStart int
	gapLen   int

	cursor int
	stack  []int // starts of the open groups, outermost first

	// inserts holds the stack depth at each open BeginInsert.
	inserts []int

	anchors map[*Anchor]int
	stale   bool

	closed bool
}

// Removed is a group taken out of the table, with its slots.
type Removed struct {
	Group
	Slots []interface{}
}

func newWriter(t *Table, s *shape) *Writer {
	n := len(s.entries)
	buf := make([]entry, n+MinGrowth)
	for i, e := range s.entries {
		if e.slots != nil {
			e.slots = append(make([]interface{}, 0, len(e.slots)), e.slots...)
		}
		buf[i] = e
	}
	return &Writer{
		t:        t,
		buf:      buf,
		gapStart: n,
		gapLen:   MinGrowth,
		stale:    true,
	}
}

// Len is the number of groups.
func (w *Writer) Len() int {
	return len(w.buf) - w.gapLen
}

func (w *Writer) at(i int) *entry {
	if i >= w.gapStart {
		i += w.gapLen
	}
	return &w.buf[i]
}

func max3(a, b, c int) int {
	return max(a, max(b, c))
}

func (w *Writer) ensureGap(n int) {
	if w.gapLen >= n {
		return
	}
	size := w.Len()
	capacity := max3(2*len(w.buf), size+n, MinGrowth)
	buf := make([]entry, capacity)
	copy(buf, w.buf[:w.gapStart])
	tail := len(w.buf) - (w.gapStart + w.gapLen)
	copy(buf[capacity-tail:], w.buf[w.gapStart+w.gapLen:])
	w.buf = buf
	w.gapLen = capacity - size
}

func (w *Writer) moveGap(i int) {
	g, n := w.gapStart, w.gapLen
	switch {
	case i < g:
		copy(w.buf[i+n:g+n], w.buf[i:g])
		clear(w.buf[i:min(g, i+n)])
	case i > g:
		copy(w.buf[g:i], w.buf[g+n:i+n])
		clear(w.buf[max(i, g+n) : i+n])
	}
	w.gapStart = i
}

func (w *Writer) insertEntries(i int, es []entry) {
	w.ensureGap(len(es))
	w.moveGap(i)
	copy(w.buf[w.gapStart:], es)
	w.gapStart += len(es)
	w.gapLen -= len(es)
	w.stale = true
}

func (w *Writer) removeEntries(i, n int) []entry {
	w.moveGap(i)
	from := w.gapStart + w.gapLen
	acc := append([]entry(nil), w.buf[from:from+n]...)
	clear(w.buf[from : from+n])
	w.gapLen += n
	w.stale = true
	return acc
}

// ancestors returns the starts of the groups that contain index,
// outermost first.
func (w *Writer) ancestors(index int) []int {
	var acc []int
	start, end := 0, w.Len()
level:
	for {
		for j := start; j < end; {
			size := w.at(j).Size
			switch {
			case j == index:
				return acc
			case index < j+size:
				acc = append(acc, j)
				start, end = j+1, j+size
				continue level
			}
			j += size
		}
		return acc
	}
}

// adjust changes Size of every group in starts, and Nodes of those
// up to the innermost node group.  starts is outermost first.
func (w *Writer) adjust(starts []int, size, nodes int) {
	for k := len(starts) - 1; k >= 0; k-- {
		g := w.at(starts[k])
		g.Size += size
		if nodes != 0 {
			if g.Kind == KindNode {
				nodes = 0
			} else {
				g.Nodes += nodes
			}
		}
	}
}

// Cursor is the index of the next group.
func (w *Writer) Cursor() int {
	return w.cursor
}

// Depth is the number of open groups.
func (w *Writer) Depth() int {
	return len(w.stack)
}

// Parent is the index of the innermost open group, or -1.
func (w *Writer) Parent() int {
	if len(w.stack) == 0 {
		return -1
	}
	return w.stack[len(w.stack)-1]
}

// GroupEnd is the index just past the innermost open group.
func (w *Writer) GroupEnd() int {
	if len(w.stack) == 0 {
		return w.Len()
	}
	p := w.stack[len(w.stack)-1]
	return p + w.at(p).Size
}

// Inserting reports whether an insert window is open.
func (w *Writer) Inserting() bool {
	return len(w.inserts) > 0
}

// Group returns the group at index.
func (w *Writer) Group(index int) (Group, error) {
	if w.closed {
		return Group{}, ErrWriterClosed
	}
	if index < 0 || index >= w.Len() {
		return Group{}, integrity("group", index, "out of range")
	}
	return w.at(index).Group, nil
}

// Slots returns a copy of the slots of the group at index.
func (w *Writer) Slots(index int) ([]interface{}, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if index < 0 || index >= w.Len() {
		return nil, integrity("slots", index, "out of range")
	}
	return append([]interface{}(nil), w.at(index).slots...), nil
}

// BeginInsert opens an insert window at the cursor.  Windows nest.
func (w *Writer) BeginInsert() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.inserts = append(w.inserts, len(w.stack))
	return nil
}

// EndInsert closes the innermost insert window.  Every group started
// inside the window must have ended.
func (w *Writer) EndInsert() error {
	if w.closed {
		return ErrWriterClosed
	}
	n := len(w.inserts)
	if n == 0 {
		return integrity("end insert", w.cursor, "no insert window")
	}
	if w.inserts[n-1] != len(w.stack) {
		return integrity("end insert", w.cursor, "groups started in the window are still open")
	}
	w.inserts = w.inserts[:n-1]
	return nil
}

// StartGroup enters a group.  Inside an insert window a new group is
// created at the cursor.  Otherwise the group at the cursor must have
// the given key and kind.
func (w *Writer) StartGroup(key interface{}, kind Kind) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.Inserting() {
		e := entry{
			Group: Group{
				Key:  key,
				Kind: kind,
				Size: 1,
			},
		}
		if kind == KindNode {
			e.Nodes = 1
		}
		w.insertEntries(w.cursor, []entry{e})
		w.adjust(w.stack, 1, e.Nodes)
		w.stack = append(w.stack, w.cursor)
		w.cursor++
		return nil
	}

	if w.cursor >= w.GroupEnd() {
		return integrity("start group", w.cursor, "no group at the cursor")
	}
	g := w.at(w.cursor)
	if g.Kind != kind || g.Key != key {
		return integrity("start group", w.cursor, "group at the cursor doesn't match")
	}
	w.stack = append(w.stack, w.cursor)
	w.cursor++
	return nil
}

// EndGroup leaves the innermost open group.  The cursor must be at
// its end.
func (w *Writer) EndGroup() error {
	if w.closed {
		return ErrWriterClosed
	}
	n := len(w.stack)
	if n == 0 {
		return integrity("end group", w.cursor, "no open group")
	}
	if k := len(w.inserts); k > 0 && w.inserts[k-1] == n {
		return integrity("end group", w.cursor, "group was started before the insert window")
	}
	if w.cursor != w.GroupEnd() {
		return integrity("end group", w.cursor, "cursor is not at the group end")
	}
	w.stack = w.stack[:n-1]
	return nil
}

// SkipGroup steps over the group at the cursor and returns it.
func (w *Writer) SkipGroup() (Group, error) {
	if w.closed {
		return Group{}, ErrWriterClosed
	}
	if w.Inserting() {
		return Group{}, integrity("skip group", w.cursor, "insert window is open")
	}
	if w.cursor >= w.GroupEnd() {
		return Group{}, integrity("skip group", w.cursor, "no group at the cursor")
	}
	g := w.at(w.cursor).Group
	w.cursor += g.Size
	return g, nil
}

// SkipToGroupEnd moves the cursor to the end of the innermost open
// group, leaving its remaining children untouched.
func (w *Writer) SkipToGroupEnd() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.cursor = w.GroupEnd()
	return nil
}

func (w *Writer) top(op string) (*entry, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if len(w.stack) == 0 {
		return nil, integrity(op, w.cursor, "no open group")
	}
	return w.at(w.stack[len(w.stack)-1]), nil
}

// SlotCount is the number of slots in the innermost open group.
func (w *Writer) SlotCount() int {
	e, err := w.top("slot count")
	if err != nil {
		return 0
	}
	return len(e.slots)
}

// Slot returns slot i of the innermost open group.
func (w *Writer) Slot(i int) (interface{}, error) {
	e, err := w.top("slot")
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(e.slots) {
		return nil, integrity("slot", i, "out of range")
	}
	return e.slots[i], nil
}

// SetSlot sets slot i of the innermost open group.  An i equal to
// SlotCount appends.
func (w *Writer) SetSlot(i int, v interface{}) error {
	e, err := w.top("set slot")
	if err != nil {
		return err
	}
	switch {
	case i >= 0 && i < len(e.slots):
		e.slots[i] = v
	case i == len(e.slots):
		e.slots = append(e.slots, v)
	default:
		return integrity("set slot", i, "out of range")
	}
	return nil
}

// TrimSlots drops the slots from n on and returns them.
func (w *Writer) TrimSlots(n int) ([]interface{}, error) {
	e, err := w.top("trim slots")
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(e.slots) {
		return nil, integrity("trim slots", n, "out of range")
	}
	dropped := append([]interface{}(nil), e.slots[n:]...)
	clear(e.slots[n:])
	e.slots = e.slots[:n]
	return dropped, nil
}

// SetData sets the Data of the innermost open group.
func (w *Writer) SetData(v interface{}) error {
	e, err := w.top("set data")
	if err != nil {
		return err
	}
	e.Data = v
	return nil
}

// SetNode sets the Node of the innermost open group.
func (w *Writer) SetNode(v interface{}) error {
	e, err := w.top("set node")
	if err != nil {
		return err
	}
	if e.Kind != KindNode {
		return integrity("set node", w.stack[len(w.stack)-1], "not a node group")
	}
	e.Node = v
	return nil
}

// Anchor returns the anchor for the group at index, creating it if
// needed.
func (w *Writer) Anchor(index int) (*Anchor, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if index < 0 || index >= w.Len() {
		return nil, integrity("anchor", index, "out of range")
	}
	e := w.at(index)
	if e.anchor == nil {
		e.anchor = newAnchor()
		if !w.stale {
			w.anchors[e.anchor] = index
		}
	}
	return e.anchor, nil
}

// Location is the anchored group's current index, or -1 if it was
// removed.
func (w *Writer) Location(a *Anchor) int {
	if w.stale {
		w.anchors = w.scanAnchors()
		w.stale = false
	}
	if i, have := w.anchors[a]; have {
		return i
	}
	return -1
}

func (w *Writer) scanAnchors() map[*Anchor]int {
	acc := make(map[*Anchor]int)
	for i, n := 0, w.Len(); i < n; i++ {
		if a := w.at(i).anchor; a != nil {
			acc[a] = i
		}
	}
	return acc
}

// RemoveGroup removes the subtree at index and returns its groups in
// pre-order.  The subtree can't contain an open group or the cursor.
func (w *Writer) RemoveGroup(index int) ([]Removed, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if index < 0 || index >= w.Len() {
		return nil, integrity("remove group", index, "out of range")
	}
	g := w.at(index).Group
	end := index + g.Size
	for _, start := range w.stack {
		if index <= start && start < end {
			return nil, integrity("remove group", index, "subtree contains an open group")
		}
	}
	if index < w.cursor && w.cursor < end {
		return nil, integrity("remove group", index, "subtree contains the cursor")
	}

	w.adjust(w.ancestors(index), -g.Size, -g.Nodes)
	es := w.removeEntries(index, g.Size)

	if w.cursor >= end {
		w.cursor -= g.Size
	}
	for k, start := range w.stack {
		if start >= end {
			w.stack[k] = start - g.Size
		}
	}

	acc := make([]Removed, len(es))
	for i, e := range es {
		acc[i] = Removed{Group: e.Group, Slots: e.slots}
	}
	return acc, nil
}

// MoveGroup moves the subtree at from among its siblings so that it
// precedes the sibling that starts at to.  A to equal to the parent's
// end moves the subtree to the end.  No open group or cursor may lie
// strictly inside the affected span.
func (w *Writer) MoveGroup(from, to int) error {
	if w.closed {
		return ErrWriterClosed
	}
	if from < 0 || from >= w.Len() {
		return integrity("move group", from, "out of range")
	}
	size := w.at(from).Size

	pstart, pend := 0, w.Len()
	if anc := w.ancestors(from); len(anc) > 0 {
		p := anc[len(anc)-1]
		pstart, pend = p+1, p+w.at(p).Size
	}
	sibling := to == pend
	for j := pstart; !sibling && j < pend; j += w.at(j).Size {
		sibling = j == to
	}
	if !sibling {
		return integrity("move group", to, "not a sibling position")
	}
	if to == from || to == from+size {
		return nil
	}

	lo, hi := min(from, to), max(from+size, to)
	for _, start := range w.stack {
		if lo <= start && start < hi {
			return integrity("move group", from, "span contains an open group")
		}
	}
	if lo < w.cursor && w.cursor < hi {
		return integrity("move group", from, "span contains the cursor")
	}

	es := w.removeEntries(from, size)
	if to > from {
		to -= size
	}
	w.insertEntries(to, es)
	return nil
}

// Close publishes the edits.  Every group and insert window must be
// closed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(w.stack) > 0 {
		return integrity("close", w.cursor, "groups are still open")
	}
	if len(w.inserts) > 0 {
		return integrity("close", w.cursor, "insert window is still open")
	}
	entries := make([]entry, w.Len())
	copy(entries, w.buf[:w.gapStart])
	copy(entries[w.gapStart:], w.buf[w.gapStart+w.gapLen:])
	s := &shape{
		entries: entries,
		anchors: make(map[*Anchor]int),
	}
	for i, e := range entries {
		if e.anchor != nil {
			s.anchors[e.anchor] = i
		}
	}
	w.closed = true
	w.buf = nil
	w.t.publish(s)
	return nil
}

// Abort discards the edits.  It's a no-op after Close.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.buf = nil
	w.t.release()
}

// Closed reports whether the writer was closed or aborted.
func (w *Writer) Closed() bool {
	return w.closed
}
