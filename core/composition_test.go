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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Comcast/strata/slots"
	"github.com/Comcast/strata/snapshot"

	"github.com/google/go-cmp/cmp"
)

type tnode struct {
	name  string
	attrs map[string]interface{}
	kids  []*tnode
}

func newNode(name string) func() interface{} {
	return func() interface{} {
		return &tnode{name: name, attrs: map[string]interface{}{}}
	}
}

func (n *tnode) String() string {
	return n.name
}

func (n *tnode) names() []string {
	acc := make([]string, len(n.kids))
	for i, k := range n.kids {
		acc[i] = k.name
	}
	return acc
}

// testApplier edits tnodes and records what it did.
type testApplier struct {
	sync.Mutex
	ops []string
}

func (a *testApplier) log(format string, args ...interface{}) {
	a.ops = append(a.ops, fmt.Sprintf(format, args...))
}

func (a *testApplier) Insert(parent interface{}, index int, node interface{}) error {
	a.Lock()
	defer a.Unlock()
	p, n := parent.(*tnode), node.(*tnode)
	if index < 0 || index > len(p.kids) {
		return fmt.Errorf("bad insert index %d", index)
	}
	p.kids = append(p.kids[:index], append([]*tnode{n}, p.kids[index:]...)...)
	a.log("insert %s %d", n.name, index)
	return nil
}

func (a *testApplier) Remove(parent interface{}, index, count int) error {
	a.Lock()
	defer a.Unlock()
	p := parent.(*tnode)
	if index < 0 || len(p.kids) < index+count {
		return fmt.Errorf("bad remove %d,%d", index, count)
	}
	p.kids = append(p.kids[:index], p.kids[index+count:]...)
	a.log("remove %d %d", index, count)
	return nil
}

func (a *testApplier) Move(parent interface{}, from, to, count int) error {
	a.Lock()
	defer a.Unlock()
	p := parent.(*tnode)
	block := append([]*tnode(nil), p.kids[from:from+count]...)
	rest := append(append([]*tnode(nil), p.kids[:from]...), p.kids[from+count:]...)
	at := MoveDestination(from, to, count)
	p.kids = append(rest[:at], append(block, rest[at:]...)...)
	a.log("move %d %d %d", from, to, count)
	return nil
}

func (a *testApplier) Update(node interface{}, attr string, value interface{}) error {
	a.Lock()
	defer a.Unlock()
	n := node.(*tnode)
	n.attrs[attr] = value
	a.log("update %s %s=%v", n.name, attr, value)
	return nil
}

// take returns and clears the recorded ops.
func (a *testApplier) take() []string {
	a.Lock()
	defer a.Unlock()
	ops := a.ops
	a.ops = nil
	return ops
}

type fixture struct {
	m    *snapshot.Manager
	r    *Recomposer
	c    *Composition
	a    *testApplier
	root *tnode
}

func newFixture(t *testing.T, content Composable) *fixture {
	t.Helper()
	f := &fixture{
		m:    snapshot.NewManager(),
		a:    &testApplier{},
		root: &tnode{name: "root"},
	}
	f.r = NewRecomposer(f.m)
	t.Cleanup(f.r.Close)
	f.c = f.r.NewComposition(f.a, f.root)
	if content != nil {
		f.c.SetContent(content)
	}
	return f
}

func (f *fixture) recompose(t *testing.T) bool {
	t.Helper()
	ran, err := f.c.Recompose(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return ran
}

func newStrings(t *testing.T, m *snapshot.Manager, name string, v []string) *snapshot.State[[]string] {
	t.Helper()
	st, err := snapshot.NewState(m.Global(), name, v, nil)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func newString(t *testing.T, m *snapshot.Manager, name string, v string) *snapshot.State[string] {
	t.Helper()
	st, err := snapshot.NewState(m.Global(), name, v, nil)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// dump renders the table for comparisons.
func dump(t *testing.T, tbl *slots.Table) []string {
	t.Helper()
	var acc []string
	err := tbl.Read(func(r *slots.Reader) error {
		return r.Walk(func(index, depth int, g slots.Group, ss []interface{}) error {
			acc = append(acc, fmt.Sprintf("%d %v %v %d %d %d", depth, g.Kind, g.Key, g.Size, g.Nodes, len(ss)))
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func TestItemsInsertAndReorder(t *testing.T) {
	var items *snapshot.State[[]string]
	content := func(cm *Composer) {
		for _, it := range items.Get(cm.Snapshot()) {
			it := it
			cm.Key(it, func(cm *Composer) {
				cm.Node("item", newNode(it), nil)
			})
		}
	}
	f := newFixture(t, content)
	items = newStrings(t, f.m, "items", []string{"a", "b", "c"})

	if !f.recompose(t) {
		t.Fatal("first pass didn't run")
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, f.root.names()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"insert a 0", "insert b 1", "insert c 2"}, f.a.take()); diff != "" {
		t.Fatal(diff)
	}
	if f.recompose(t) {
		t.Fatal("pass ran without invalidation")
	}

	before := f.root.kids
	items.Set(f.m.Global(), []string{"c", "a", "b"})
	if !f.recompose(t) {
		t.Fatal("reorder pass didn't run")
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, f.root.names()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"move 2 0 1"}, f.a.take()); diff != "" {
		t.Fatal(diff)
	}
	// Nodes are reused, not recreated.
	if f.root.kids[0] != before[2] {
		t.Fatal("node c was recreated")
	}
}

func TestRemoveItems(t *testing.T) {
	var items *snapshot.State[[]string]
	scopes := map[string]*Scope{}
	content := func(cm *Composer) {
		for _, it := range items.Get(cm.Snapshot()) {
			it := it
			cm.Call(it, nil, func(cm *Composer) {
				scopes[it] = cm.CurrentScope()
				cm.Node("item", newNode(it), nil)
			})
		}
	}
	f := newFixture(t, content)
	items = newStrings(t, f.m, "items", []string{"a", "b", "c"})
	f.recompose(t)
	if n := f.c.ScopeCount(); n != 4 {
		t.Fatalf("%d scopes", n)
	}

	items.Set(f.m.Global(), []string{"a", "c"})
	f.recompose(t)
	if diff := cmp.Diff([]string{"a", "c"}, f.root.names()); diff != "" {
		t.Fatal(diff)
	}
	if n := f.c.ScopeCount(); n != 3 {
		t.Fatalf("%d scopes after removal", n)
	}
	if s := scopes["b"].State(); s != Disposed {
		t.Fatalf("removed scope is %v", s)
	}
	scopes["b"].Invalidate()
	if f.c.HasPendingWork() {
		t.Fatal("disposed scope was scheduled")
	}

	items.Set(f.m.Global(), nil)
	f.recompose(t)
	if len(f.root.kids) != 0 {
		t.Fatalf("left %v", f.root.names())
	}
}

func TestSkipUnchangedSiblings(t *testing.T) {
	var left, right *snapshot.State[string]
	runs := map[string]int{}
	label := func(name string, st **snapshot.State[string]) Composable {
		return func(cm *Composer) {
			runs[name]++
			cm.Node(name, newNode(name), func(cm *Composer) {
				cm.Set("text", (*st).Get(cm.Snapshot()))
			})
		}
	}
	content := func(cm *Composer) {
		cm.Call("left", nil, label("left", &left))
		cm.Call("right", nil, label("right", &right))
	}
	f := newFixture(t, content)
	left = newString(t, f.m, "left", "L1")
	right = newString(t, f.m, "right", "R1")
	f.recompose(t)
	f.a.take()
	prior := dump(t, f.c.Table())

	left.Set(f.m.Global(), "L2")
	f.recompose(t)

	if diff := cmp.Diff(map[string]int{"left": 2, "right": 1}, runs); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"update left text=L2"}, f.a.take()); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff(prior, dump(t, f.c.Table())); diff != "" {
		t.Fatal(diff)
	}
	if got := f.root.kids[1].attrs["text"]; got != "R1" {
		t.Fatalf("right text %v", got)
	}
}

func TestSkippedCallRunsInvalidChildren(t *testing.T) {
	var inner *snapshot.State[string]
	runs := map[string]int{}
	content := func(cm *Composer) {
		cm.Call("outer", []interface{}{1}, func(cm *Composer) {
			runs["outer"]++
			cm.Call("inner", nil, func(cm *Composer) {
				runs["inner"]++
				cm.Node("n", newNode("n"), func(cm *Composer) {
					cm.Set("v", inner.Get(cm.Snapshot()))
				})
			})
		})
	}
	f := newFixture(t, content)
	inner = newString(t, f.m, "inner", "x")
	f.recompose(t)

	inner.Set(f.m.Global(), "y")
	f.c.SetContent(content)
	f.recompose(t)

	if diff := cmp.Diff(map[string]int{"outer": 1, "inner": 2}, runs); diff != "" {
		t.Fatal(diff)
	}
	if got := f.root.kids[0].attrs["v"]; got != "y" {
		t.Fatalf("v is %v", got)
	}
}

func TestChangedArgsRerun(t *testing.T) {
	var n *snapshot.State[string]
	runs := 0
	content := func(cm *Composer) {
		v := n.Get(cm.Snapshot())
		cm.Call("child", []interface{}{v}, func(cm *Composer) {
			runs++
			cm.Node("n", newNode("n"), func(cm *Composer) {
				cm.Set("v", v)
			})
		})
	}
	f := newFixture(t, content)
	n = newString(t, f.m, "n", "1")
	f.recompose(t)
	n.Set(f.m.Global(), "2")
	f.recompose(t)
	if runs != 2 {
		t.Fatalf("child ran %d times", runs)
	}
	if diff := cmp.Diff([]string{"insert n 0", "update n v=1", "update n v=2"}, f.a.take()); diff != "" {
		t.Fatal(diff)
	}
}

func TestPanicRollsBack(t *testing.T) {
	var boom *snapshot.State[string]
	content := func(cm *Composer) {
		v := boom.Get(cm.Snapshot())
		cm.Node("n", newNode("n"), func(cm *Composer) {
			if v == "boom" {
				panic("boom")
			}
			cm.Set("v", v)
		})
	}
	f := newFixture(t, content)
	boom = newString(t, f.m, "boom", "ok")
	f.recompose(t)
	f.a.take()
	prior := dump(t, f.c.Table())

	boom.Set(f.m.Global(), "boom")
	_, err := f.c.Recompose(context.Background())
	var ce *CompositionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v", err)
	}
	if ce.Key != "n" {
		t.Fatalf("failed in %v", ce.Key)
	}
	if diff := cmp.Diff(prior, dump(t, f.c.Table())); diff != "" {
		t.Fatal(diff)
	}
	if ops := f.a.take(); len(ops) != 0 {
		t.Fatalf("applied %v", ops)
	}
	if !f.c.HasPendingWork() {
		t.Fatal("failed work was dropped")
	}

	boom.Set(f.m.Global(), "fine")
	f.recompose(t)
	if diff := cmp.Diff([]string{"update n v=fine"}, f.a.take()); diff != "" {
		t.Fatal(diff)
	}
}

func TestSetOutsideNode(t *testing.T) {
	f := newFixture(t, func(cm *Composer) {
		cm.Set("x", 1)
	})
	_, err := f.c.Recompose(context.Background())
	var nne *NoNodeError
	if !errors.As(err, &nne) {
		t.Fatalf("got %v", err)
	}
	if f.c.Table().Len() != 0 {
		t.Fatal("table changed")
	}
}

func TestUnbalanced(t *testing.T) {
	f := newFixture(t, func(cm *Composer) {
		cm.StartGroup("open")
	})
	_, err := f.c.Recompose(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCanceledPass(t *testing.T) {
	var st *snapshot.State[string]
	f := newFixture(t, func(cm *Composer) {
		cm.Call("c", nil, func(cm *Composer) {
			st.Get(cm.Snapshot())
		})
	})
	st = newString(t, f.m, "st", "a")
	f.recompose(t)

	st.Set(f.m.Global(), "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.c.Recompose(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if !f.c.HasPendingWork() {
		t.Fatal("canceled work was dropped")
	}
	f.recompose(t)
}

type observed struct {
	remembered, forgotten int
}

func (o *observed) OnRemembered() { o.remembered++ }
func (o *observed) OnForgotten()  { o.forgotten++ }

func TestRemember(t *testing.T) {
	var show *snapshot.State[string]
	obs := &observed{}
	calcs := 0
	content := func(cm *Composer) {
		if show.Get(cm.Snapshot()) == "" {
			return
		}
		cm.Key("x", func(cm *Composer) {
			v := cm.Remember(func() interface{} {
				calcs++
				return obs
			})
			if v != obs {
				panic("wrong remembered value")
			}
		})
	}
	f := newFixture(t, content)
	show = newString(t, f.m, "show", "yes")
	f.recompose(t)
	f.c.SetContent(content)
	f.recompose(t)
	if calcs != 1 {
		t.Fatalf("calculated %d times", calcs)
	}
	if obs.remembered != 1 || obs.forgotten != 0 {
		t.Fatalf("%+v", *obs)
	}

	show.Set(f.m.Global(), "")
	f.recompose(t)
	if obs.forgotten != 1 {
		t.Fatalf("%+v", *obs)
	}
}

func TestPassWritesInvalidateReaders(t *testing.T) {
	var src, dst *snapshot.State[string]
	content := func(cm *Composer) {
		cm.Call("writer", nil, func(cm *Composer) {
			dst.Set(cm.Snapshot(), src.Get(cm.Snapshot())+"!")
		})
		cm.Call("reader", nil, func(cm *Composer) {
			cm.Node("n", newNode("n"), func(cm *Composer) {
				cm.Set("v", dst.Get(cm.Snapshot()))
			})
		})
	}
	f := newFixture(t, content)
	src = newString(t, f.m, "src", "a")
	dst = newString(t, f.m, "dst", "")
	f.recompose(t)
	if got := dst.Get(f.m.Global()); got != "a!" {
		t.Fatalf("dst is %q", got)
	}

	src.Set(f.m.Global(), "b")
	f.recompose(t)
	// Readers of a pass's writes run once more, then it settles.
	f.recompose(t)
	if f.recompose(t) {
		t.Fatal("never settled")
	}
	if got := f.root.kids[0].attrs["v"]; got != "b!" {
		t.Fatalf("v is %v", got)
	}
}

// applyElsewhere writes x from its own snapshot, as another goroutine
// would.
func applyElsewhere(t *testing.T, m *snapshot.Manager, x *snapshot.State[string], v string) {
	t.Helper()
	ms := m.TakeMutableSnapshot(nil, nil)
	defer ms.Dispose()
	x.Set(ms, v)
	if r := ms.Apply(); !r.Succeeded() {
		t.Fatal(r.Err)
	}
}

func TestApplyDuringPassReachesNewScope(t *testing.T) {
	var (
		x    *snapshot.State[string]
		seen []string
		once sync.Once
	)
	content := func(cm *Composer) {
		cm.Call("child", nil, func(cm *Composer) {
			seen = append(seen, x.Get(cm.Snapshot()))
			once.Do(func() { applyElsewhere(t, cm.Composition().Manager(), x, "1") })
		})
	}
	f := newFixture(t, content)
	x = newString(t, f.m, "x", "0")

	f.recompose(t)
	if !f.c.HasPendingWork() {
		t.Fatal("apply during the pass was dropped")
	}
	f.recompose(t)
	if f.recompose(t) {
		t.Fatal("never settled")
	}
	if diff := cmp.Diff([]string{"0", "1"}, seen); diff != "" {
		t.Fatal(diff)
	}
}

func TestApplyDuringPassReachesNewRead(t *testing.T) {
	var (
		on, x *snapshot.State[string]
		seen  []string
		once  sync.Once
	)
	content := func(cm *Composer) {
		cm.Call("child", nil, func(cm *Composer) {
			if on.Get(cm.Snapshot()) != "y" {
				return
			}
			seen = append(seen, x.Get(cm.Snapshot()))
			once.Do(func() { applyElsewhere(t, cm.Composition().Manager(), x, "1") })
		})
	}
	f := newFixture(t, content)
	on = newString(t, f.m, "on", "n")
	x = newString(t, f.m, "x", "0")
	f.recompose(t)

	on.Set(f.m.Global(), "y")
	f.recompose(t)
	if !f.c.HasPendingWork() {
		t.Fatal("apply during the pass was dropped")
	}
	f.recompose(t)
	if f.recompose(t) {
		t.Fatal("never settled")
	}
	if diff := cmp.Diff([]string{"0", "1"}, seen); diff != "" {
		t.Fatal(diff)
	}
}

func TestDispose(t *testing.T) {
	f := newFixture(t, func(cm *Composer) {
		cm.Node("a", newNode("a"), nil)
		cm.Node("b", newNode("b"), nil)
	})
	f.recompose(t)
	if err := f.c.Dispose(); err != nil {
		t.Fatal(err)
	}
	if len(f.root.kids) != 0 {
		t.Fatalf("left %v", f.root.names())
	}
	if _, err := f.c.Recompose(context.Background()); err != ErrDisposed {
		t.Fatalf("got %v", err)
	}
	if n := len(f.r.Compositions()); n != 0 {
		t.Fatalf("%d compositions", n)
	}
}

func TestRun(t *testing.T) {
	var st *snapshot.State[string]
	f := newFixture(t, nil)
	st = newString(t, f.m, "st", "1")
	f.c.SetContent(func(cm *Composer) {
		cm.Node("n", newNode("n"), func(cm *Composer) {
			cm.Set("v", st.Get(cm.Snapshot()))
		})
	})

	var passes atomic.Int32
	f.r.AfterPass = func(c *Composition, err error) {
		if c == f.c && err == nil {
			passes.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.r.Run(ctx, ImmediateClock{})
	}()

	wait := func(want string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			f.a.Lock()
			var got interface{}
			if len(f.root.kids) > 0 {
				got = f.root.kids[0].attrs["v"]
			}
			f.a.Unlock()
			if got == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("never saw %q", want)
	}
	wait("1")
	st.Set(f.m.Global(), "2")
	wait("2")

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if n := passes.Load(); n < 2 {
		t.Fatalf("%d passes", n)
	}
}

func TestBroadcastFrameClock(t *testing.T) {
	awaited := make(chan struct{}, 1)
	c := &BroadcastFrameClock{
		OnAwait: func() { awaited <- struct{}{} },
	}
	got := make(chan time.Time, 1)
	go c.WithFrame(context.Background(), func(t time.Time) {
		got <- t
	})
	<-awaited
	then := time.Unix(10, 0)
	c.SendFrame(then)
	if tm := <-got; !tm.Equal(then) {
		t.Fatalf("got %v", tm)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WithFrame(ctx, func(time.Time) {}); err != context.Canceled {
		t.Fatalf("got %v", err)
	}
	if c.HasAwaiters() {
		t.Fatal("canceled waiter is still registered")
	}
}

func TestJoinedKey(t *testing.T) {
	k := SourceKey()
	if Join(k, 1) != Join(k, 1) {
		t.Fatal("joined keys differ")
	}
	if Join(k, 1) == Join(k, 2) {
		t.Fatal("joined keys collide")
	}
}
