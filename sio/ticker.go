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
	"time"

	"github.com/Comcast/strata/core"
)

// Ticker sends frames to a BroadcastFrameClock at a fixed interval.
type Ticker struct {
	Interval time.Duration
	Clock    *core.BroadcastFrameClock
}

// Run sends frames until ctx is done.  Frames nobody is waiting for
// are skipped.
func (t *Ticker) Run(ctx context.Context) error {
	tick := time.NewTicker(t.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			if t.Clock.HasAwaiters() {
				t.Clock.SendFrame(now)
			}
		}
	}
}
