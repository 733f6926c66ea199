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

package tree

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"

	"github.com/google/go-cmp/cmp"
)

func TestApplierOps(t *testing.T) {
	tr := NewTree("root")
	a := NewApplier(tr)
	var ops []string
	a.OnChange = func(c Change) {
		ops = append(ops, c.Op)
	}

	for i, typ := range []string{"a", "b", "c", "d"} {
		if err := a.Insert(tr.Root, i, New(typ)); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Move(tr.Root, 3, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := a.Move(tr.Root, 0, 3, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"d", "b", "a", "c"}, tr.Root.Types()); diff != "" {
		t.Fatal(diff)
	}
	if err := a.Remove(tr.Root, 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := a.Update(tr.Root.Children[0], "text", "hi"); err != nil {
		t.Fatal(err)
	}
	if got, want := tr.String(), `root(d[text="hi"] c)`; got != want {
		t.Fatalf("%s != %s", got, want)
	}
	if diff := cmp.Diff([]string{"insert", "insert", "insert", "insert", "move", "move", "remove", "update"}, ops); diff != "" {
		t.Fatal(diff)
	}
}

func TestApplierErrors(t *testing.T) {
	tr := NewTree("root")
	a := NewApplier(tr)
	tests := []struct {
		name string
		f    func() error
	}{
		{"insert-range", func() error { return a.Insert(tr.Root, 1, New("x")) }},
		{"insert-type", func() error { return a.Insert("root", 0, New("x")) }},
		{"remove-range", func() error { return a.Remove(tr.Root, 0, 1) }},
		{"move-range", func() error { return a.Move(tr.Root, 0, 0, 2) }},
		{"update-type", func() error { return a.Update(42, "x", 1) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.f()
			if _, is := err.(*BadOpError); !is {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestCopyAndJSON(t *testing.T) {
	tr := NewTree("root")
	n := New("label")
	n.Attrs["text"] = "hi"
	tr.Root.Children = []*Node{n}

	c := tr.Copy()
	c.Root.Children[0].Attrs["text"] = "bye"
	if n.Attrs["text"] != "hi" {
		t.Fatal("copy shares attrs")
	}
	if c.Root.Find(n.ID) == nil {
		t.Fatal("copy lost ids")
	}

	js, err := json.Marshal(tr)
	if err != nil {
		t.Fatal(err)
	}
	var x struct {
		Root *Node `json:"root"`
	}
	if err = json.Unmarshal(js, &x); err != nil {
		t.Fatal(err)
	}
	if got := x.Root.String(); got != `root(label[text="hi"])` {
		t.Fatalf("got %s", got)
	}
}

func TestComposeTree(t *testing.T) {
	m := snapshot.NewManager()
	r := core.NewRecomposer(m)
	defer r.Close()

	tr := NewTree("root")
	c := r.NewComposition(NewApplier(tr), tr.Root)

	items, err := snapshot.NewState(m.Global(), "items", []string{"x", "y"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.SetContent(func(cm *core.Composer) {
		for _, it := range items.Get(cm.Snapshot()) {
			it := it
			cm.Node(it, func() interface{} { return New("item") }, func(cm *core.Composer) {
				cm.Set("name", it)
			})
		}
	})

	ctx := context.Background()
	if _, err := c.Recompose(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := tr.String(), `root(item[name="x"] item[name="y"])`; got != want {
		t.Fatalf("%s != %s", got, want)
	}

	items.Set(m.Global(), []string{"y", "z"})
	if _, err := c.Recompose(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := tr.String(), `root(item[name="y"] item[name="z"])`; got != want {
		t.Fatalf("%s != %s", got, want)
	}
}
