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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Comcast/strata/core"

	"github.com/google/go-cmp/cmp"
)

const labelProgram = `_.node("label", "l", {text: "hi " + _.state("who"), n: _.state("count")});`

func testConf() *HostConf {
	return &HostConf{
		Id: "test",
		States: []*StateConf{
			{Name: "who", Initial: "world"},
			{Name: "count", Policy: "sum", Initial: 0.0},
		},
		Source: &core.ProgramSource{
			Interpreter: "goja",
			Source:      labelProgram,
		},
	}
}

func bufferedChans() *Chans {
	return &Chans{
		In:   make(chan interface{}),
		Out:  make(chan *Result, 16),
		Done: make(chan bool),
	}
}

func newTestHost(t *testing.T, conf *HostConf, c *Chans) *Host {
	t.Helper()
	h, err := NewHost(context.Background(), conf, c, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := h.Close(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
	return h
}

// run runs h until the test ends.
func run(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	})
}

func next(t *testing.T, out chan *Result) *Result {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for a result")
	}
	return nil
}

// waitTree reads results until the tree is want.
func waitTree(t *testing.T, h *Host, out chan *Result, want string) {
	t.Helper()
	for h.Tree().String() != want {
		if r := next(t, out); r.Error != "" {
			t.Fatal(r.Error)
		}
	}
}

func wantTree(t *testing.T, h *Host, want string) {
	t.Helper()
	if got := h.Tree().String(); got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestHostEvents(t *testing.T) {
	c := NewChans()
	h := newTestHost(t, testConf(), c)
	run(t, h)

	r := next(t, c.Out)
	if r.Error != "" {
		t.Fatal(r.Error)
	}
	if len(r.Changes) == 0 || r.Changes[0].Op != "insert" {
		t.Fatalf("changes %s", JS(r.Changes))
	}
	wantTree(t, h, `root(label[n=0 text="hi world"])`)

	c.In <- map[string]interface{}{"state": "who", "value": "you"}
	r = next(t, c.Out)
	if len(r.Changes) != 1 || r.Changes[0].Op != "update" || r.Changes[0].Attr != "text" {
		t.Fatalf("changes %s", JS(r.Changes))
	}
	wantTree(t, h, `root(label[n=0 text="hi you"])`)

	c.In <- map[string]interface{}{"op": "inc", "state": "count", "by": 2.0}
	next(t, c.Out)
	wantTree(t, h, `root(label[n=2 text="hi you"])`)

	c.In <- map[string]interface{}{"op": "bogus", "state": "count"}
	r = next(t, c.Out)
	if !strings.Contains(r.Error, "unknown op bogus") {
		t.Fatalf("error %q", r.Error)
	}
}

func TestHostHaltOnEOF(t *testing.T) {
	conf := testConf()
	conf.HaltOnEOF = true
	c := bufferedChans()
	h := newTestHost(t, conf, c)

	errs := make(chan error, 1)
	go func() {
		errs <- h.Run(context.Background())
	}()

	c.In <- map[string]interface{}{"state": "who", "value": "bye"}
	close(c.Done)

	select {
	case err := <-errs:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host didn't halt")
	}
	wantTree(t, h, `root(label[n=0 text="hi bye"])`)
}

func TestHostPersistence(t *testing.T) {
	for _, kind := range []string{"json", "bolt"} {
		t.Run(kind, func(t *testing.T) {
			conf := testConf()
			conf.Storage = StorageConf{
				Kind: kind,
				Path: filepath.Join(t.TempDir(), "states."+kind),
			}

			c := bufferedChans()
			h, err := NewHost(context.Background(), conf, c, nil)
			if err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			errs := make(chan error, 1)
			go func() {
				errs <- h.Run(ctx)
			}()

			next(t, c.Out)
			// The loop is sequential, so extra is in before
			// count's pass.
			c.In <- map[string]interface{}{"state": "extra", "value": "new"}
			c.In <- map[string]interface{}{"op": "inc", "state": "count", "by": 2.0}
			next(t, c.Out)

			cancel()
			if err := <-errs; err != nil {
				t.Fatal(err)
			}
			if err := h.Close(context.Background()); err != nil {
				t.Fatal(err)
			}

			h = newTestHost(t, conf, bufferedChans())
			got, err := h.Values()
			if err != nil {
				t.Fatal(err)
			}
			want := map[string]interface{}{
				"who":   "world",
				"count": 2.0,
				"extra": "new",
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestProcessMsgErrors(t *testing.T) {
	h := newTestHost(t, testConf(), bufferedChans())
	ctx := context.Background()

	tests := []struct {
		name string
		msg  interface{}
	}{
		{"not-object", "hello"},
		{"no-state", map[string]interface{}{"value": 1.0}},
		{"bad-by", map[string]interface{}{"op": "inc", "state": "count", "by": "two"}},
		{"not-number", map[string]interface{}{"op": "inc", "state": "who"}},
		{"no-timer-id", map[string]interface{}{"op": "after", "in": "1s"}},
		{"bad-duration", map[string]interface{}{"op": "after", "id": "t", "in": "soon"}},
		{"unknown-op", map[string]interface{}{"op": "explode"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.ProcessMsg(ctx, tc.msg)
			var bad *BadMessageError
			if !errors.As(err, &bad) {
				t.Fatalf("got %v", err)
			}
		})
	}

	err := h.ProcessMsg(ctx, map[string]interface{}{"op": "cancel", "id": "nope"})
	var nf *TimerNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v", err)
	}

	err = h.ProcessMsg(ctx, map[string]interface{}{"op": "reload"})
	if err == nil {
		t.Fatal("reload without a program file should fail")
	}
}

func TestProcessMsgCreatesStates(t *testing.T) {
	h := newTestHost(t, testConf(), bufferedChans())
	ctx := context.Background()

	if err := h.ProcessMsg(ctx, map[string]interface{}{"state": "color", "value": "red"}); err != nil {
		t.Fatal(err)
	}
	if err := h.ProcessMsg(ctx, map[string]interface{}{"op": "inc", "state": "hits"}); err != nil {
		t.Fatal(err)
	}
	if err := h.ProcessMsg(ctx, map[string]interface{}{"op": "inc", "state": "hits"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"color", "count", "hits", "who"}, h.StateNames()); diff != "" {
		t.Fatal(diff)
	}
	got, err := h.Values()
	if err != nil {
		t.Fatal(err)
	}
	if got["color"] != "red" || got["hits"] != 2.0 {
		t.Fatalf("got %v", got)
	}
}

func TestTimersEvents(t *testing.T) {
	h := newTestHost(t, testConf(), bufferedChans())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	later := map[string]interface{}{
		"op":  "after",
		"id":  "soon",
		"in":  "10ms",
		"msg": map[string]interface{}{"state": "who", "value": "later"},
	}
	if err := h.ProcessMsg(ctx, later); err != nil {
		t.Fatal(err)
	}
	never := map[string]interface{}{
		"op":  "after",
		"id":  "never",
		"in":  "1h",
		"msg": map[string]interface{}{"state": "who", "value": "never"},
	}
	if err := h.ProcessMsg(ctx, never); err != nil {
		t.Fatal(err)
	}
	if err := h.ProcessMsg(ctx, map[string]interface{}{"op": "cancel", "id": "never"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		vals, err := h.Values()
		if err != nil {
			t.Fatal(err)
		}
		if vals["who"] == "later" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timer didn't fire: %v", vals)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(h.Timers().Pending()); n != 0 {
		t.Fatalf("%d pending timers", n)
	}
}

func TestHostFrames(t *testing.T) {
	conf := testConf()
	conf.FrameInterval = 5 * time.Millisecond
	c := NewChans()
	h := newTestHost(t, conf, c)
	run(t, h)

	next(t, c.Out)
	c.In <- map[string]interface{}{"state": "who", "value": "frames"}
	next(t, c.Out)
	wantTree(t, h, `root(label[n=0 text="hi frames"])`)
}

func TestHostFailedPass(t *testing.T) {
	conf := testConf()
	conf.Source = &core.ProgramSource{
		Interpreter: "goja",
		Source:      `_.node("label", "l", {text: _.state("missing")});`,
	}
	c := NewChans()
	h := newTestHost(t, conf, c)
	run(t, h)

	r := next(t, c.Out)
	if !strings.Contains(r.Error, "missing") {
		t.Fatalf("error %q", r.Error)
	}
	wantTree(t, h, `root`)

	// Creating the state lets the pass run again.
	c.In <- map[string]interface{}{"state": "missing", "value": "found"}
	waitTree(t, h, c.Out, `root(label[text="found"])`)
}
