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
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// DefaultMaxAttempts is the initial Manager.MaxAttempts.
var DefaultMaxAttempts = 8

// ApplyObserver is told about the objects changed by each successful
// apply, after the apply has completed.
type ApplyObserver func(changed []Object, s Snapshot)

// Manager owns snapshot ids, the set of open snapshots, and the
// global snapshot.  States created with one Manager's snapshots
// should only be used with that Manager.
type Manager struct {
	// Logger defaults to a null logger.
	Logger hclog.Logger

	// MaxAttempts bounds Atomically's retries.
	MaxAttempts int

	mu     sync.Mutex
	nextID ID
	open   IDSet
	pins   map[ID]int
	global *MutableSnapshot

	applyObservers map[int]ApplyObserver
	writeObservers map[int]func(Object)
	nextObserver   int

	current atomic.Pointer[MutableSnapshot]
	seq     atomic.Uint64
	handle  *globalHandle
}

// NewManager makes a Manager with a fresh global snapshot.
func NewManager() *Manager {
	m := &Manager{
		Logger:         hclog.NewNullLogger(),
		MaxAttempts:    DefaultMaxAttempts,
		nextID:         invalidID + 1,
		pins:           make(map[ID]int, 8),
		applyObservers: make(map[int]ApplyObserver, 4),
		writeObservers: make(map[int]func(Object), 4),
	}
	m.handle = &globalHandle{m: m}

	m.mu.Lock()
	g := m.newMutable(m.allocLocked(), IDSet{}, nil, nil, nil)
	g.global = true
	m.pinLocked(&g.base)
	m.global = g
	m.current.Store(g)
	m.mu.Unlock()

	return m
}

// Global returns a handle to the global snapshot.  Writes through it
// are visible to later snapshots immediately, and are announced to
// apply observers by SendApplyNotifications.
func (m *Manager) Global() Snapshot {
	return m.handle
}

// allocLocked returns a new id and marks it open.
func (m *Manager) allocLocked() ID {
	id := m.nextID
	m.nextID++
	m.open = m.open.Set(id)
	return id
}

// OpenSnapshots returns the ids of every open snapshot, including the
// global one.
func (m *Manager) OpenSnapshots() IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Manager) pinLocked(b *base) {
	v := b.view()
	b.pin = v.invalid.Lowest(v.id)
	b.pinned = true
	m.pins[b.pin]++
}

func (m *Manager) unpinLocked(pin ID) {
	if n := m.pins[pin]; n <= 1 {
		delete(m.pins, pin)
	} else {
		m.pins[pin] = n - 1
	}
}

// reuseLimitLocked is the id below which only the newest record of an
// object can still be read by any open snapshot.
func (m *Manager) reuseLimitLocked() ID {
	low := m.nextID
	for pin := range m.pins {
		if pin < low {
			low = pin
		}
	}
	return low - 1
}

func (m *Manager) gaugeLocked() {
	openSnapshots.Set(float64(m.open.Len()))
}

// advanceGlobalLocked closes the global snapshot and replaces it with
// one that can see everything committed so far.  It returns the old
// global snapshot, whose modified set the caller should announce.
func (m *Manager) advanceGlobalLocked() *MutableSnapshot {
	prev := m.global
	m.open = m.open.Clear(prev.ID())
	invalid := m.open
	g := m.newMutable(m.allocLocked(), invalid, nil, nil, nil)
	g.global = true
	if prev.pinned {
		m.unpinLocked(prev.pin)
		prev.pinned = false
	}
	m.pinLocked(&g.base)
	m.global = g
	m.current.Store(g)
	return prev
}

// TakeSnapshot returns a read-only snapshot of everything committed
// so far.
func (m *Manager) TakeSnapshot(readObserver func(Object)) Snapshot {
	m.mu.Lock()
	prev := m.global
	invalid := m.open.Clear(prev.ID())
	s := m.newReadonly(m.allocLocked(), invalid, readObserver)
	m.pinLocked(&s.base)
	m.advanceGlobalLocked()
	changed := prev.modified
	prev.modified = nil
	m.gaugeLocked()
	m.mu.Unlock()

	m.notify(changed, m.handle)
	return s
}

// TakeMutableSnapshot returns a mutable snapshot of everything
// committed so far.
func (m *Manager) TakeMutableSnapshot(readObserver, writeObserver func(Object)) *MutableSnapshot {
	m.mu.Lock()
	prev := m.global
	invalid := m.open.Clear(prev.ID())
	s := m.newMutable(m.allocLocked(), invalid, readObserver, writeObserver, nil)
	m.pinLocked(&s.base)
	m.advanceGlobalLocked()
	changed := prev.modified
	prev.modified = nil
	m.gaugeLocked()
	m.mu.Unlock()

	m.notify(changed, m.handle)
	return s
}

// SendApplyNotifications announces writes made through Global since
// the last announcement.
func (m *Manager) SendApplyNotifications() {
	m.mu.Lock()
	if len(m.global.modified) == 0 {
		m.mu.Unlock()
		return
	}
	prev := m.advanceGlobalLocked()
	changed := prev.modified
	prev.modified = nil
	m.gaugeLocked()
	m.mu.Unlock()

	m.notify(changed, m.handle)
}

// RegisterApplyObserver adds an observer and returns a function that
// removes it.
func (m *Manager) RegisterApplyObserver(f ApplyObserver) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.applyObservers[id] = f
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.applyObservers, id)
		m.mu.Unlock()
	}
}

// RegisterGlobalWriteObserver adds a function called after every
// write to the global snapshot.  A host typically uses it to schedule
// SendApplyNotifications.
func (m *Manager) RegisterGlobalWriteObserver(f func(Object)) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.writeObservers[id] = f
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.writeObservers, id)
		m.mu.Unlock()
	}
}

func observersInOrder[F any](fs map[int]F) []F {
	ids := make([]int, 0, len(fs))
	for id := range fs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	acc := make([]F, len(ids))
	for i, id := range ids {
		acc[i] = fs[id]
	}
	return acc
}

// notify runs apply observers and object subscribers.  Called without
// m.mu.
func (m *Manager) notify(changed map[Object]struct{}, s Snapshot) {
	if len(changed) == 0 {
		return
	}
	objs := sortObjects(changed)

	m.mu.Lock()
	fs := observersInOrder(m.applyObservers)
	m.mu.Unlock()

	notificationsTotal.Inc()
	for _, f := range fs {
		f(objs, s)
	}
	for _, o := range objs {
		o.cell().notify(o)
	}
}

func (m *Manager) applied(r ApplyResult) ApplyResult {
	switch {
	case r.Err == nil:
		appliesTotal.WithLabelValues("success").Inc()
	case IsConflict(r.Err):
		appliesTotal.WithLabelValues("conflict").Inc()
	default:
		appliesTotal.WithLabelValues("error").Inc()
	}
	return r
}

// create installs o's first record, stamped with s's id.
func (m *Manager) create(s Snapshot, o Object, value interface{}) error {
	if err := s.check("create state"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := o.cell()
	c.mu.Lock()
	c.head = &record{
		id:    s.ID(),
		value: value,
	}
	c.mu.Unlock()

	// An object created in a mutable snapshot is abandoned along
	// with the snapshot.
	if target, err := s.writeTarget(); err == nil && !target.global {
		target.recordModifiedLocked(o)
	}
	return nil
}

func (m *Manager) read(s Snapshot, o Object, observe bool) (interface{}, error) {
	if err := s.check("read"); err != nil {
		return nil, err
	}
	if observe {
		if f, _ := s.observers(); f != nil {
			f(o)
		}
	}
	v := s.view()
	c := o.cell()
	c.mu.RLock()
	r := readable(c.head, v.id, v.invalid)
	var x interface{}
	if r != nil {
		x = r.value
	}
	c.mu.RUnlock()
	if r == nil {
		return nil, &SnapshotReadError{Object: c.name, Snapshot: v.id}
	}
	return x, nil
}

func (m *Manager) write(s Snapshot, o Object, value interface{}) error {
	if err := s.check("write"); err != nil {
		return err
	}

	m.mu.Lock()
	target, err := s.writeTarget()
	if err != nil {
		m.mu.Unlock()
		if e, is := err.(*ReadOnlyWriteError); is {
			e.Object = o.Name()
		}
		return err
	}

	v := target.view()
	c := o.cell()
	c.mu.Lock()
	r := readable(c.head, v.id, v.invalid)
	if r == nil {
		c.mu.Unlock()
		m.mu.Unlock()
		return &SnapshotReadError{Object: c.name, Snapshot: v.id}
	}
	if r.id != v.id {
		r = c.overwritable(m.reuseLimitLocked())
		r.id = v.id
	}
	r.value = value
	c.mu.Unlock()

	target.recordModifiedLocked(o)
	var globals []func(Object)
	if target.global {
		globals = observersInOrder(m.writeObservers)
	}
	m.mu.Unlock()

	writesTotal.Inc()
	if _, f := s.observers(); f != nil {
		f(o)
	}
	for _, f := range globals {
		f(o)
	}
	return nil
}

// Atomically runs f in a fresh mutable snapshot and applies it,
// retrying on ApplyConflictError up to MaxAttempts times.  An error
// from f disposes the snapshot and is returned without a retry.
func (m *Manager) Atomically(ctx context.Context, f func(*MutableSnapshot) error) error {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		s := m.TakeMutableSnapshot(nil, nil)
		if err = f(s); err != nil {
			s.Dispose()
			return err
		}
		r := s.Apply()
		s.Dispose()
		if err = r.Err; err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		m.Logger.Debug("retrying after conflict", "attempt", i+1, "error", err)
	}
	return err
}
