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

package sio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TimerEntry represents a pending timer.
type TimerEntry struct {
	Id  string      `json:"id"`
	Msg interface{} `json:"msg"`
	At  time.Time   `json:"at"`

	ctl    chan bool
	timers *Timers
}

// Timers represents pending timers, which send their messages back
// to the host when they fire.
type Timers struct {
	Emitter func(context.Context, *TimerEntry) `json:"-"`

	Logger hclog.Logger

	sync.Mutex
	m map[string]*TimerEntry
}

// TimerNotFoundError reports a Cancel of an unknown timer.
type TimerNotFoundError struct {
	Id string
}

func (e *TimerNotFoundError) Error() string {
	return "timer '" + e.Id + "' doesn't exist"
}

// NewTimers creates a Timers with the given function that the
// TimerEntries will use to emit their messages.
func NewTimers(emitter func(context.Context, *TimerEntry)) *Timers {
	return &Timers{
		Emitter: emitter,
		Logger:  hclog.NewNullLogger(),
		m:       make(map[string]*TimerEntry, 8),
	}
}

// Add creates a new Timer that will emit the given message later (if
// the timer isn't cancelled first).  An existing timer with the same
// id is replaced.
func (ts *Timers) Add(ctx context.Context, id string, msg interface{}, d time.Duration) {
	ts.Logger.Debug("add timer", "id", id, "in", d)

	e := &TimerEntry{
		Id:     id,
		At:     time.Now().UTC().Add(d),
		Msg:    msg,
		ctl:    make(chan bool),
		timers: ts,
	}

	ts.Lock()
	if prev, have := ts.m[id]; have {
		close(prev.ctl)
	}
	ts.m[id] = e
	ts.Unlock()

	go e.run(ctx)
}

// run executes the TimerEntry at the appointed time if the
// TimerEntry isn't cancelled first.
func (te *TimerEntry) run(ctx context.Context) {
	t := time.NewTimer(time.Until(te.At))
	defer t.Stop()
	select {
	case <-t.C:
		ts := te.timers
		ts.Lock()
		current := ts.m[te.Id] == te
		if current {
			delete(ts.m, te.Id)
		}
		ts.Unlock()
		if current {
			ts.Logger.Debug("firing timer", "id", te.Id)
			ts.Emitter(ctx, te)
		}
	case <-te.ctl:
		te.timers.Logger.Debug("canceled timer", "id", te.Id)
	case <-ctx.Done():
	}
}

// Cancel attempts to cancel the timer with the given id.
func (ts *Timers) Cancel(ctx context.Context, id string) error {
	ts.Lock()
	defer ts.Unlock()
	e, have := ts.m[id]
	if !have {
		return &TimerNotFoundError{Id: id}
	}
	delete(ts.m, id)
	close(e.ctl)
	return nil
}

// Pending returns the pending timers ordered by firing time.
func (ts *Timers) Pending() []*TimerEntry {
	ts.Lock()
	acc := make([]*TimerEntry, 0, len(ts.m))
	for _, e := range ts.m {
		acc = append(acc, e)
	}
	ts.Unlock()
	sort.Slice(acc, func(i, j int) bool {
		return acc[i].At.Before(acc[j].At)
	})
	return acc
}
