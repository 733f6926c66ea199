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
	"errors"
	"testing"
	"time"
)

func TestTimers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan *TimerEntry, 4)
	ts := NewTimers(func(ctx context.Context, te *TimerEntry) {
		fired <- te
	})

	ts.Add(ctx, "b", "later", time.Hour)
	ts.Add(ctx, "a", "first", time.Minute)
	ps := ts.Pending()
	if len(ps) != 2 || ps[0].Id != "a" || ps[1].Id != "b" {
		t.Fatal(JS(ps))
	}

	// Replacing "a" means only the new one fires.
	ts.Add(ctx, "a", "replaced", 10*time.Millisecond)

	select {
	case te := <-fired:
		if te.Id != "a" || te.Msg != "replaced" {
			t.Fatal(te.Id, te.Msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer didn't fire")
	}

	if err := ts.Cancel(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if n := len(ts.Pending()); n != 0 {
		t.Fatal(n)
	}

	var nf *TimerNotFoundError
	if err := ts.Cancel(ctx, "b"); !errors.As(err, &nf) || nf.Id != "b" {
		t.Fatal(err)
	}

	select {
	case te := <-fired:
		t.Fatal(te.Id)
	case <-time.After(50 * time.Millisecond):
	}
}
