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
	"github.com/Comcast/strata/slots"
)

// ScopeState is the lifecycle state of a Scope.
type ScopeState int

const (
	NotComposed ScopeState = iota
	Composing
	Composed
	Invalid
	Disposed
)

func (s ScopeState) String() string {
	switch s {
	case NotComposed:
		return "not composed"
	case Composing:
		return "composing"
	case Composed:
		return "composed"
	case Invalid:
		return "invalid"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// Restarter re-runs a restart group.  Restart is called with the
// Composer positioned at the group, and must start and end exactly
// that group.
type Restarter interface {
	Restart(c *Composer)
}

// Composable is composable code.
type Composable func(c *Composer)

// Restart calls f.
func (f Composable) Restart(c *Composer) {
	f(c)
}

// Scope is the invalidation scope of a restart group.
type Scope struct {
	id     uint64
	comp   *Composition
	anchor *slots.Anchor
	key    interface{}

	// block is only touched by passes, which hold comp.mu.
	block Restarter

	// state and seq are guarded by comp.dirtyMu.
	state ScopeState
	seq   uint64
}

// ID is unique within the Scope's Composition.
func (s *Scope) ID() uint64 {
	return s.id
}

// Key is the key of the Scope's group.
func (s *Scope) Key() interface{} {
	return s.key
}

// State returns the Scope's lifecycle state.
func (s *Scope) State() ScopeState {
	s.comp.dirtyMu.Lock()
	defer s.comp.dirtyMu.Unlock()
	return s.state
}

// Invalidate schedules the Scope's group to run again in the next
// pass.  Invalidating a disposed Scope does nothing.
func (s *Scope) Invalidate() {
	s.comp.invalidate(s)
}
