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

package core

import (
	"container/heap"
	"context"
	"errors"
	"reflect"

	"github.com/Comcast/strata/slots"
	"github.com/Comcast/strata/snapshot"
)

// RememberObserver is implemented by remembered values that want to
// know when they enter or leave the composition.  Both calls happen
// after the pass that caused them commits.
type RememberObserver interface {
	OnRemembered()
	OnForgotten()
}

// remembered marks a slot written by Remember.
type remembered struct {
	value interface{}
}

type frame struct {
	group int
	key   interface{}

	// slot is the next slot to use.
	slot int

	inserted    bool
	beganInsert bool
	node        bool

	// skipped means SkipToGroupEnd was called.  passthrough means
	// the recomposer entered the group to reach a scope inside it,
	// without running the group's code.
	skipped     bool
	passthrough bool

	// nodeBase is the enclosing node's child index when a
	// passthrough group was entered.
	nodeBase int
}

type nodeFrame struct {
	node  interface{}
	index int
}

type scopeFrame struct {
	scope *Scope
	depth int
}

// canceled carries a context error out of a pass.
type canceled struct {
	err error
}

// pass is the bookkeeping of one composition pass.  Nothing in it is
// visible outside the pass until commit.
type pass struct {
	batch map[*Scope]bool

	// reads has an entry for every scope whose body ran.
	reads   map[*Scope]map[snapshot.Object]struct{}
	blocks  map[*Scope]Restarter
	created []*Scope
	removed []*Scope

	rememberedObs []RememberObserver
	forgottenObs  []RememberObserver

	changes ChangeList
}

func newPass(batch []*Scope) *pass {
	p := &pass{
		batch:  make(map[*Scope]bool, len(batch)),
		reads:  make(map[*Scope]map[snapshot.Object]struct{}),
		blocks: make(map[*Scope]Restarter),
	}
	for _, s := range batch {
		p.batch[s] = true
	}
	return p
}

// Composer records composable code into the slot table.  A Composer
// exists only for the duration of one pass and must only be used by
// the code the pass calls.
type Composer struct {
	comp *Composition
	w    *slots.Writer
	snap *snapshot.MutableSnapshot
	pass *pass
	ctx  context.Context

	frames []frame
	nodes  []nodeFrame
	scopes []scopeFrame

	// queue holds the pass's invalid scopes.
	queue *scopeHeap
}

func (c *Composer) must(err error) {
	if err != nil {
		panic(err)
	}
}

func (c *Composer) group(i int) slots.Group {
	g, err := c.w.Group(i)
	c.must(err)
	return g
}

func (c *Composer) top() *frame {
	n := len(c.frames)
	if n == 0 {
		panic(errors.New("no open group"))
	}
	return &c.frames[n-1]
}

func (c *Composer) nodeTop() *nodeFrame {
	return &c.nodes[len(c.nodes)-1]
}

func (c *Composer) emit(o Op) {
	c.pass.changes = append(c.pass.changes, o)
}

// Snapshot is the pass's snapshot.  Reads through it are recorded as
// dependencies of the innermost restart group.
func (c *Composer) Snapshot() *snapshot.MutableSnapshot {
	return c.snap
}

// Context is the context the pass was started with.
func (c *Composer) Context() context.Context {
	return c.ctx
}

// Composition is the Composition being composed.
func (c *Composer) Composition() *Composition {
	return c.comp
}

// Inserting reports whether the current group is new in this pass.
func (c *Composer) Inserting() bool {
	return c.w.Inserting()
}

// CurrentScope is the Scope of the innermost restart group, or nil.
func (c *Composer) CurrentScope() *Scope {
	if n := len(c.scopes); n > 0 {
		return c.scopes[n-1].scope
	}
	return nil
}

func (c *Composer) recordRead(o snapshot.Object) {
	n := len(c.scopes)
	if n == 0 {
		return
	}
	if reads := c.pass.reads[c.scopes[n-1].scope]; reads != nil {
		reads[o] = struct{}{}
	}
}

// start begins a group of the given kind, reusing, moving, or
// inserting it.  It reports whether the group was inserted.
func (c *Composer) start(key interface{}, kind slots.Kind) bool {
	w := c.w
	f := frame{key: key}
	if !w.Inserting() {
		cur, end := w.Cursor(), w.GroupEnd()
		found := false
		offset := 0
		for j := cur; j < end; {
			g := c.group(j)
			if g.Kind == kind && g.Key == key {
				if j != cur {
					c.must(w.MoveGroup(j, cur))
					if g.Nodes > 0 && offset > 0 {
						nf := c.nodeTop()
						c.emit(Op{
							Kind:   OpMove,
							Parent: nf.node,
							From:   nf.index + offset,
							To:     nf.index,
							Count:  g.Nodes,
						})
					}
				}
				found = true
				break
			}
			offset += g.Nodes
			j += g.Size
		}
		if !found {
			c.must(w.BeginInsert())
			f.beganInsert = true
		}
	}
	f.inserted = w.Inserting()
	f.group = w.Cursor()
	c.must(w.StartGroup(key, kind))
	c.frames = append(c.frames, f)
	return f.inserted
}

// end finishes the innermost group.  Children that weren't visited
// are removed, as are unused slots.
func (c *Composer) end() {
	f := *c.top()
	if !f.skipped && !f.passthrough {
		c.removeRest()
		dropped, err := c.w.TrimSlots(f.slot)
		c.must(err)
		c.forget(dropped)
	}
	c.must(c.w.EndGroup())
	if f.beganInsert {
		c.must(c.w.EndInsert())
	}
	c.frames = c.frames[:len(c.frames)-1]
}

// removeRest removes every group from the cursor to the end of the
// innermost group (or the table).
func (c *Composer) removeRest() {
	w := c.w
	nf := c.nodeTop()
	for w.Cursor() < w.GroupEnd() {
		i := w.Cursor()
		g := c.group(i)
		removed, err := w.RemoveGroup(i)
		c.must(err)
		if g.Nodes > 0 {
			c.emit(Op{
				Kind:   OpRemove,
				Parent: nf.node,
				Index:  nf.index,
				Count:  g.Nodes,
			})
		}
		c.retire(removed)
	}
}

func (c *Composer) retire(removed []slots.Removed) {
	for _, r := range removed {
		if s, is := r.Data.(*Scope); is {
			c.pass.removed = append(c.pass.removed, s)
		}
		c.forget(r.Slots)
	}
}

func (c *Composer) forget(vals []interface{}) {
	for _, v := range vals {
		if r, is := v.(remembered); is {
			if o, is := r.value.(RememberObserver); is {
				c.pass.forgottenObs = append(c.pass.forgottenObs, o)
			}
		}
	}
}

// StartGroup begins a keyed group.  On recomposition the group is
// matched by key among the remaining siblings and moved into place
// if needed.
func (c *Composer) StartGroup(key interface{}) {
	c.start(key, slots.KindGroup)
}

// EndGroup ends the group begun by StartGroup.
func (c *Composer) EndGroup() {
	f := c.top()
	if f.node {
		panic(errors.New("EndGroup called for a node group"))
	}
	c.end()
}

// Key runs body in a group with the given key.
func (c *Composer) Key(key interface{}, body Composable) {
	c.StartGroup(key)
	if body != nil {
		body(c)
	}
	c.EndGroup()
}

// StartNode begins a node group.  When the group is new, factory
// makes the node and an insert is emitted.  Otherwise the node from
// the previous pass is reused.
func (c *Composer) StartNode(key interface{}, factory func() interface{}) interface{} {
	inserted := c.start(key, slots.KindNode)
	f := c.top()
	f.node = true
	var node interface{}
	if inserted {
		node = factory()
		c.must(c.w.SetNode(node))
		nf := c.nodeTop()
		c.emit(Op{
			Kind:   OpInsert,
			Parent: nf.node,
			Index:  nf.index,
			Node:   node,
		})
	} else {
		node = c.group(f.group).Node
	}
	c.nodes = append(c.nodes, nodeFrame{node: node})
	return node
}

// EndNode ends the group begun by StartNode.
func (c *Composer) EndNode() {
	if !c.top().node {
		panic(errors.New("EndNode called for a plain group"))
	}
	c.end()
	c.nodes = c.nodes[:len(c.nodes)-1]
	c.nodeTop().index++
}

// Node runs body in a node group.
func (c *Composer) Node(key interface{}, factory func() interface{}, body Composable) interface{} {
	node := c.StartNode(key, factory)
	if body != nil {
		body(c)
	}
	c.EndNode()
	return node
}

// SkipToGroupEnd leaves the rest of the current group as it was in
// the previous pass.
func (c *Composer) SkipToGroupEnd() {
	w := c.w
	f := c.top()
	if c.queue != nil && !w.Inserting() {
		// Invalid scopes inside the skipped range still run.
		c.recomposeRange(c.queue, w.GroupEnd())
	}
	nf := c.nodeTop()
	for j := w.Cursor(); j < w.GroupEnd(); {
		g := c.group(j)
		nf.index += g.Nodes
		j += g.Size
	}
	c.must(w.SkipToGroupEnd())
	f.skipped = true
	if n := len(c.scopes); n > 0 && c.scopes[n-1].depth == len(c.frames) {
		// The scope keeps its dependencies from the last pass.
		delete(c.pass.reads, c.scopes[n-1].scope)
	}
}

// Changed stores v in the next slot and reports whether it differs
// (by reflect.DeepEqual) from what that slot held in the previous
// pass.  A new slot is always changed.
func (c *Composer) Changed(v interface{}) bool {
	f := c.top()
	i := f.slot
	f.slot++
	if i < c.w.SlotCount() {
		old, err := c.w.Slot(i)
		c.must(err)
		if reflect.DeepEqual(old, v) {
			return false
		}
		c.forget([]interface{}{old})
	}
	c.must(c.w.SetSlot(i, v))
	return true
}

// Remember returns the value calc returned when this slot was first
// composed.
func (c *Composer) Remember(calc func() interface{}) interface{} {
	f := c.top()
	i := f.slot
	f.slot++
	if i < c.w.SlotCount() {
		old, err := c.w.Slot(i)
		c.must(err)
		if r, is := old.(remembered); is {
			return r.value
		}
	}
	v := calc()
	c.must(c.w.SetSlot(i, remembered{v}))
	if o, is := v.(RememberObserver); is {
		c.pass.rememberedObs = append(c.pass.rememberedObs, o)
	}
	return v
}

// Set updates an attribute of the innermost node when value changed.
func (c *Composer) Set(attr string, value interface{}) {
	if len(c.nodes) < 2 {
		panic(&NoNodeError{Attr: attr})
	}
	if c.Changed(value) {
		c.emit(Op{
			Kind:  OpUpdate,
			Node:  c.nodeTop().node,
			Attr:  attr,
			Value: value,
		})
	}
}

// StartRestartGroup begins a group with a recompose scope.  The group
// must be ended with EndRestartGroup.
func (c *Composer) StartRestartGroup(key interface{}) *Scope {
	c.start(key, slots.KindGroup)
	f := c.top()
	s, _ := c.group(f.group).Data.(*Scope)
	if s == nil {
		s = c.comp.newScope(key)
		c.must(c.w.SetData(s))
		a, err := c.w.Anchor(f.group)
		c.must(err)
		s.anchor = a
		c.pass.created = append(c.pass.created, s)
	}
	c.scopes = append(c.scopes, scopeFrame{scope: s, depth: len(c.frames)})
	c.pass.reads[s] = make(map[snapshot.Object]struct{})
	return s
}

// EndRestartGroup ends a restart group.  block is how the group is
// run again when its scope is invalidated.
func (c *Composer) EndRestartGroup(block Restarter) {
	n := len(c.scopes)
	if n == 0 || c.scopes[n-1].depth != len(c.frames) {
		panic(errors.New("EndRestartGroup doesn't match StartRestartGroup"))
	}
	s := c.scopes[n-1].scope
	c.scopes = c.scopes[:n-1]
	c.pass.blocks[s] = block
	if _, ran := c.pass.reads[s]; ran {
		scopesRun.Inc()
	}
	c.end()
}

// mustRun reports whether a restart group's body has to run.
func (c *Composer) mustRun(s *Scope) bool {
	return c.top().inserted || c.pass.batch[s]
}

// Call runs body in a restart group, skipping it when every arg
// equals its value from the previous pass and the scope is valid.
func (c *Composer) Call(key interface{}, args []interface{}, body Composable) {
	s := c.StartRestartGroup(key)
	changed := false
	for _, a := range args {
		if c.Changed(a) {
			changed = true
		}
	}
	if changed || c.mustRun(s) {
		body(c)
	} else {
		c.SkipToGroupEnd()
	}
	c.EndRestartGroup(Composable(func(c *Composer) {
		c.Call(key, args, body)
	}))
}

// run executes the pass, converting panics to errors.
func (c *Composer) run(batch []*Scope, full bool) (err error) {
	defer func() {
		if x := recover(); x != nil {
			if cx, is := x.(canceled); is {
				err = cx.err
				return
			}
			group, key := -1, interface{}(nil)
			if n := len(c.frames); n > 0 {
				group, key = c.frames[n-1].group, c.frames[n-1].key
			}
			err = &CompositionError{
				Group: group,
				Key:   key,
				Cause: panicError(x),
			}
		}
	}()

	c.queue = &scopeHeap{}
	for _, s := range batch {
		if loc := c.w.Location(s.anchor); loc >= 0 {
			heap.Push(c.queue, queued{scope: s, loc: loc})
		}
	}

	if full {
		c.comp.compose(c)
		c.removeRest()
		return nil
	}
	c.recomposeRange(c.queue, c.w.Len())
	return nil
}

// recomposeRange runs the queued scopes that lie before end, passing
// through the groups that contain them and skipping the rest.
func (c *Composer) recomposeRange(h *scopeHeap, end int) {
	w := c.w
	for h.Len() > 0 {
		if err := c.ctx.Err(); err != nil {
			panic(canceled{err})
		}
		s := h.peek()
		loc := w.Location(s.anchor)
		cur := w.Cursor()
		if _, ran := c.pass.reads[s]; ran || loc < cur {
			heap.Pop(h)
			continue
		}
		if loc >= end {
			return
		}
		g := c.group(cur)
		switch {
		case loc == cur:
			heap.Pop(h)
			if s.block == nil {
				panic(errors.New("scope has no restart block"))
			}
			s.block.Restart(c)
		case loc < cur+g.Size:
			c.enter(g, cur)
			c.recomposeRange(h, w.GroupEnd())
			c.leave()
		default:
			_, err := w.SkipGroup()
			c.must(err)
			c.nodeTop().index += g.Nodes
		}
	}
}

func (c *Composer) enter(g slots.Group, at int) {
	c.must(c.w.StartGroup(g.Key, g.Kind))
	c.frames = append(c.frames, frame{
		group:       at,
		key:         g.Key,
		passthrough: true,
		node:        g.Kind == slots.KindNode,
		nodeBase:    c.nodeTop().index,
	})
	if g.Kind == slots.KindNode {
		c.nodes = append(c.nodes, nodeFrame{node: g.Node})
	}
}

func (c *Composer) leave() {
	f := *c.top()
	c.must(c.w.SkipToGroupEnd())
	c.end()
	if f.node {
		c.nodes = c.nodes[:len(c.nodes)-1]
		c.nodeTop().index++
		return
	}
	c.nodeTop().index = f.nodeBase + c.group(f.group).Nodes
}

type queued struct {
	scope *Scope
	loc   int
}

// scopeHeap orders queued scopes by table location.
type scopeHeap []queued

func (h scopeHeap) Len() int            { return len(h) }
func (h scopeHeap) Less(i, j int) bool  { return h[i].loc < h[j].loc }
func (h scopeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scopeHeap) Push(x interface{}) { *h = append(*h, x.(queued)) }

func (h *scopeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h scopeHeap) peek() *Scope {
	return h[0].scope
}
