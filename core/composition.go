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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Comcast/strata/slots"
	"github.com/Comcast/strata/snapshot"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

type rootKey struct{}

// Composition is one composed tree: its content, its slot table, the
// node tree it edits through an Applier, and the dependencies of its
// scopes.
type Composition struct {
	// ID is a random id for logs and hosts.
	ID string

	Logger hclog.Logger

	rec     *Recomposer
	m       *snapshot.Manager
	table   *slots.Table
	applier Applier
	root    interface{}

	// mu serializes passes.
	mu       sync.Mutex
	disposed atomic.Bool
	passSnap atomic.Pointer[snapshot.MutableSnapshot]

	contentMu sync.Mutex
	content   Composable

	dirtyMu   sync.Mutex
	dirty     map[*Scope]struct{}
	full      bool
	seq       uint64
	nextScope atomic.Uint64

	// The registry: which scopes read which objects.
	regMu   sync.Mutex
	scopes  map[uint64]*Scope
	readers map[snapshot.Object]map[uint64]struct{}
	reads   map[uint64][]snapshot.Object

	// pending collects objects applied by others while a pass runs.
	// It is nil between passes.
	pendMu  sync.Mutex
	pending map[snapshot.Object]struct{}
}

func newComposition(r *Recomposer, applier Applier, root interface{}) *Composition {
	return &Composition{
		ID:      uuid.NewString(),
		Logger:  r.Logger.Named("composition"),
		rec:     r,
		m:       r.m,
		table:   slots.NewTable(),
		applier: applier,
		root:    root,
		dirty:   make(map[*Scope]struct{}),
		scopes:  make(map[uint64]*Scope),
		readers: make(map[snapshot.Object]map[uint64]struct{}),
		reads:   make(map[uint64][]snapshot.Object),
	}
}

// Table is the composition's slot table.
func (c *Composition) Table() *slots.Table {
	return c.table
}

// Root is the root node given to NewComposition.
func (c *Composition) Root() interface{} {
	return c.root
}

// Manager is the snapshot manager the composition reads from.
func (c *Composition) Manager() *snapshot.Manager {
	return c.m
}

// SetContent replaces the composition's content.  The next pass runs
// the whole content again.
func (c *Composition) SetContent(content Composable) {
	if c.disposed.Load() {
		return
	}
	c.contentMu.Lock()
	c.content = content
	c.contentMu.Unlock()

	c.dirtyMu.Lock()
	c.full = true
	c.dirtyMu.Unlock()
	c.rec.signal()
}

// compose is the root restart group.
func (c *Composition) compose(cm *Composer) {
	cm.StartRestartGroup(rootKey{})
	c.contentMu.Lock()
	content := c.content
	c.contentMu.Unlock()
	if content != nil {
		content(cm)
	}
	cm.EndRestartGroup(Composable(c.compose))
}

// HasPendingWork reports whether the next pass has anything to do.
func (c *Composition) HasPendingWork() bool {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return c.full || len(c.dirty) > 0
}

// Reads returns the objects s read when it last ran.
func (c *Composition) Reads(s *Scope) []snapshot.Object {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return append([]snapshot.Object(nil), c.reads[s.id]...)
}

// ScopeCount is the number of live scopes.
func (c *Composition) ScopeCount() int {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return len(c.scopes)
}

func (c *Composition) newScope(key interface{}) *Scope {
	return &Scope{
		id:   c.nextScope.Add(1),
		comp: c,
		key:  key,
	}
}

func (c *Composition) invalidate(s *Scope) {
	c.dirtyMu.Lock()
	if s.state == Disposed {
		c.dirtyMu.Unlock()
		return
	}
	s.state = Invalid
	c.seq++
	s.seq = c.seq
	c.dirty[s] = struct{}{}
	c.dirtyMu.Unlock()
	c.rec.signal()
}

func (c *Composition) invalidateObjects(objs []snapshot.Object) {
	c.regMu.Lock()
	var acc []*Scope
	seen := make(map[uint64]bool)
	for _, o := range objs {
		for id := range c.readers[o] {
			if !seen[id] {
				seen[id] = true
				acc = append(acc, c.scopes[id])
			}
		}
	}
	c.regMu.Unlock()
	for _, s := range acc {
		c.invalidate(s)
	}
}

// objectsApplied is called for every apply.  The composition's own
// pass is handled after commit instead, against the new dependencies.
// Applies that land during a pass are also kept for commit, which
// checks them against the reads the pass recorded.
func (c *Composition) objectsApplied(objs []snapshot.Object, s snapshot.Snapshot) {
	if ms, is := s.(*snapshot.MutableSnapshot); is && ms == c.passSnap.Load() {
		return
	}
	c.pendMu.Lock()
	if c.pending != nil {
		for _, o := range objs {
			c.pending[o] = struct{}{}
		}
	}
	c.pendMu.Unlock()
	c.invalidateObjects(objs)
}

func (c *Composition) startPending() {
	c.pendMu.Lock()
	c.pending = make(map[snapshot.Object]struct{})
	c.pendMu.Unlock()
}

func (c *Composition) takePending() map[snapshot.Object]struct{} {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	acc := c.pending
	c.pending = nil
	return acc
}

func (c *Composition) takeDirty() ([]*Scope, uint64, bool) {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	batch := make([]*Scope, 0, len(c.dirty))
	for s := range c.dirty {
		s.state = Composing
		batch = append(batch, s)
	}
	c.dirty = make(map[*Scope]struct{})
	full := c.full
	c.full = false
	return batch, c.seq, full
}

// restore puts a failed pass's work back.
func (c *Composition) restore(batch []*Scope, full bool) {
	c.dirtyMu.Lock()
	for _, s := range batch {
		if s.state == Disposed {
			continue
		}
		s.state = Invalid
		c.dirty[s] = struct{}{}
	}
	c.full = c.full || full
	c.dirtyMu.Unlock()
}

// Recompose runs a pass if anything is invalid.  It reports whether a
// pass ran.  A failed pass changes nothing, and its work is retried
// by the next call.
func (c *Composition) Recompose(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return false, ErrDisposed
	}

	c.m.SendApplyNotifications()
	batch, seq, full := c.takeDirty()
	if len(batch) == 0 && !full {
		return false, nil
	}

	then := time.Now()
	err := c.runPass(ctx, batch, seq, full)
	passSeconds.Observe(time.Since(then).Seconds())
	switch {
	case err == nil:
		passesTotal.WithLabelValues("success").Inc()
	case snapshot.IsConflict(err):
		passesTotal.WithLabelValues("conflict").Inc()
	default:
		passesTotal.WithLabelValues("error").Inc()
	}
	return true, err
}

func (c *Composition) runPass(ctx context.Context, batch []*Scope, seq uint64, full bool) error {
	p := newPass(batch)
	cm := &Composer{
		comp:  c,
		pass:  p,
		ctx:   ctx,
		nodes: []nodeFrame{{node: c.root}},
	}
	// Before the snapshot, so no apply can slip between the two.
	c.startPending()
	snap := c.m.TakeMutableSnapshot(cm.recordRead, nil)
	cm.snap = snap

	w, err := c.table.OpenWriter()
	if err != nil {
		snap.Dispose()
		c.takePending()
		c.restore(batch, full)
		return err
	}
	cm.w = w

	c.passSnap.Store(snap)
	defer c.passSnap.Store(nil)

	fail := func(err error) error {
		w.Abort()
		snap.Dispose()
		c.takePending()
		c.restore(batch, full)
		c.Logger.Debug("pass rolled back", "error", err)
		return err
	}

	if err := cm.run(batch, full); err != nil {
		return fail(err)
	}
	if w.Depth() != 0 || w.Inserting() {
		return fail(&UnbalancedError{Depth: w.Depth()})
	}

	written := snap.Modified()
	if r := snap.Apply(); !r.Succeeded() {
		return fail(r.Err)
	}
	snap.Dispose()
	if err := w.Close(); err != nil {
		return fail(err)
	}

	c.commit(p, batch, seq)
	c.Logger.Debug("pass committed", "ran", len(p.reads), "removed", len(p.removed), "ops", len(p.changes))

	if err := p.changes.Apply(c.applier); err != nil {
		return err
	}
	c.invalidateObjects(written)
	return nil
}

func (c *Composition) setReadsLocked(id uint64, objs map[snapshot.Object]struct{}) {
	for _, o := range c.reads[id] {
		if set := c.readers[o]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(c.readers, o)
			}
		}
	}
	if len(objs) == 0 {
		delete(c.reads, id)
		return
	}
	acc := make([]snapshot.Object, 0, len(objs))
	for o := range objs {
		acc = append(acc, o)
		set := c.readers[o]
		if set == nil {
			set = make(map[uint64]struct{}, 2)
			c.readers[o] = set
		}
		set[id] = struct{}{}
	}
	c.reads[id] = acc
}

// commit installs what a successful pass recorded.
func (c *Composition) commit(p *pass, batch []*Scope, seq uint64) {
	c.regMu.Lock()
	for _, s := range p.created {
		c.scopes[s.id] = s
	}
	for s, reads := range p.reads {
		c.setReadsLocked(s.id, reads)
	}
	for _, s := range p.removed {
		c.setReadsLocked(s.id, nil)
		delete(c.scopes, s.id)
	}
	var stale []*Scope
	if pending := c.takePending(); len(pending) > 0 {
		seen := make(map[uint64]bool)
		for o := range pending {
			for id := range c.readers[o] {
				if !seen[id] {
					seen[id] = true
					stale = append(stale, c.scopes[id])
				}
			}
		}
	}
	c.regMu.Unlock()

	for s, b := range p.blocks {
		s.block = b
	}

	c.dirtyMu.Lock()
	for s := range p.reads {
		switch {
		case s.state == Disposed:
		case s.seq > seq:
			// Invalidated while the pass ran; the pass couldn't
			// see the change.
			s.state = Invalid
			c.dirty[s] = struct{}{}
		default:
			s.state = Composed
		}
	}
	for _, s := range p.removed {
		s.state = Disposed
		s.block = nil
		delete(c.dirty, s)
	}
	for _, s := range batch {
		if s.state == Composing {
			s.state = Invalid
			c.dirty[s] = struct{}{}
		}
	}
	c.dirtyMu.Unlock()

	// Applied while the pass ran, so the pass may have read old values.
	for _, s := range stale {
		c.invalidate(s)
	}

	for i := len(p.forgottenObs) - 1; i >= 0; i-- {
		p.forgottenObs[i].OnForgotten()
	}
	for _, o := range p.rememberedObs {
		o.OnRemembered()
	}
}

// Dispose removes every node the composition inserted and disposes
// its scopes.
func (c *Composition) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Swap(true) {
		return nil
	}
	c.rec.remove(c)

	w, err := c.table.OpenWriter()
	if err != nil {
		return err
	}
	p := newPass(nil)
	cm := &Composer{
		comp:  c,
		w:     w,
		pass:  p,
		ctx:   context.Background(),
		nodes: []nodeFrame{{node: c.root}},
	}
	cm.removeRest()
	if err := w.Close(); err != nil {
		return err
	}
	c.commit(p, nil, 0)
	return p.changes.Apply(c.applier)
}
