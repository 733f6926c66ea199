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
)

// DefaultFrameInterval is the frame interval hosts use when none is
// configured.
var DefaultFrameInterval = 16 * time.Millisecond

// FrameClock paces recomposition.  WithFrame waits for the next frame
// and calls f with its time.
type FrameClock interface {
	WithFrame(ctx context.Context, f func(frame time.Time)) error
}

// BroadcastFrameClock delivers frames sent with SendFrame to every
// waiting WithFrame.
type BroadcastFrameClock struct {
	// OnAwait, if not nil, is called when the first WithFrame starts
	// waiting for a frame.  A host can use it to start producing
	// frames on demand.
	OnAwait func()

	mu      sync.Mutex
	waiters []chan time.Time
}

// WithFrame waits for SendFrame or for ctx to be done.
func (c *BroadcastFrameClock) WithFrame(ctx context.Context, f func(time.Time)) error {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	first := len(c.waiters) == 0
	c.waiters = append(c.waiters, ch)
	onAwait := c.OnAwait
	c.mu.Unlock()

	if first && onAwait != nil {
		onAwait()
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range c.waiters {
			if w == ch {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return ctx.Err()
	case t := <-ch:
		f(t)
		return nil
	}
}

// SendFrame releases every current waiter.
func (c *BroadcastFrameClock) SendFrame(t time.Time) {
	c.mu.Lock()
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, ch := range ws {
		ch <- t
	}
}

// HasAwaiters reports whether anything is waiting for a frame.
func (c *BroadcastFrameClock) HasAwaiters() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters) > 0
}

// ImmediateClock runs every frame right away.
type ImmediateClock struct{}

func (ImmediateClock) WithFrame(ctx context.Context, f func(time.Time)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f(time.Now())
	return nil
}
