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
	"time"

	"github.com/Comcast/strata/snapshot"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Recomposer drives the compositions of one snapshot Manager.  It
// routes apply notifications to the compositions, and signals Pending
// whenever any of them has work.
type Recomposer struct {
	Logger hclog.Logger

	// AfterPass, if not nil, is called by RecomposeAll after each
	// pass that ran, with the pass's error.
	AfterPass func(c *Composition, err error)

	m       *snapshot.Manager
	pending chan struct{}
	cancels []func()

	mu    sync.Mutex
	comps []*Composition
}

// NewRecomposer makes a Recomposer and registers its observers with
// m.  Close unregisters them.
func NewRecomposer(m *snapshot.Manager) *Recomposer {
	r := &Recomposer{
		Logger:  hclog.NewNullLogger(),
		m:       m,
		pending: make(chan struct{}, 1),
	}
	r.cancels = []func(){
		m.RegisterApplyObserver(r.applied),
		m.RegisterGlobalWriteObserver(func(snapshot.Object) {
			r.signal()
		}),
	}
	return r
}

// Close unregisters the Recomposer's observers.  It doesn't dispose
// the compositions.
func (r *Recomposer) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

// Manager returns the snapshot manager.
func (r *Recomposer) Manager() *snapshot.Manager {
	return r.m
}

// NewComposition makes an empty Composition that edits the tree
// under root through applier.  Call SetContent to give it something
// to compose.
func (r *Recomposer) NewComposition(applier Applier, root interface{}) *Composition {
	c := newComposition(r, applier, root)
	r.mu.Lock()
	r.comps = append(r.comps, c)
	r.mu.Unlock()
	return c
}

func (r *Recomposer) remove(c *Composition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.comps {
		if x == c {
			r.comps = append(r.comps[:i], r.comps[i+1:]...)
			return
		}
	}
}

// Compositions returns the live compositions in creation order.
func (r *Recomposer) Compositions() []*Composition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Composition(nil), r.comps...)
}

func (r *Recomposer) applied(objs []snapshot.Object, s snapshot.Snapshot) {
	for _, c := range r.Compositions() {
		c.objectsApplied(objs, s)
	}
}

func (r *Recomposer) signal() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

// Wake makes Run look for work as if something had changed.
func (r *Recomposer) Wake() {
	r.signal()
}

// Pending receives a value when something may need recomposition.
// Many signals coalesce into one.
func (r *Recomposer) Pending() <-chan struct{} {
	return r.pending
}

// RecomposeAll runs a pass for every composition with work.  It
// reports whether any pass ran.  Errors from individual compositions
// are combined.
func (r *Recomposer) RecomposeAll(ctx context.Context) (bool, error) {
	var (
		ran  bool
		errs *multierror.Error
	)
	for _, c := range r.Compositions() {
		did, err := c.Recompose(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if did && r.AfterPass != nil {
			r.AfterPass(c, err)
		}
		ran = ran || did
	}
	return ran, errs.ErrorOrNil()
}

// Run recomposes, once per frame of clock, whenever Pending fires.
// It returns when ctx is done.  Failed passes are logged.  A pass
// that failed on an apply conflict is retried on the next frame.
func (r *Recomposer) Run(ctx context.Context, clock FrameClock) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.pending:
		}

		err := clock.WithFrame(ctx, func(frame time.Time) {
			ran, err := r.RecomposeAll(ctx)
			if err == nil {
				if ran {
					r.Logger.Trace("frame", "time", frame)
				}
				return
			}
			r.Logger.Warn("recomposition failed", "error", err)
			if snapshot.IsConflict(err) {
				r.signal()
			}
		})
		if err != nil {
			return err
		}
	}
}
