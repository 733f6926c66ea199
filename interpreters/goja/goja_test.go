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

package goja

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"
	"github.com/Comcast/strata/tree"
)

type states struct {
	m  *snapshot.Manager
	ss map[string]*snapshot.State[interface{}]
}

func (s *states) State(name string) (*snapshot.State[interface{}], error) {
	st, have := s.ss[name]
	if !have {
		return nil, fmt.Errorf("no state %q", name)
	}
	return st, nil
}

func (s *states) add(t *testing.T, name string, v interface{}) *snapshot.State[interface{}] {
	st, err := snapshot.NewState[interface{}](s.m.Global(), name, v, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.ss[name] = st
	return st
}

type harness struct {
	states *states
	tree   *tree.Tree
	c      *core.Composition
	r      *core.Recomposer
}

func compose(t *testing.T, i *Interpreter, src interface{}, initial map[string]interface{}) *harness {
	t.Helper()
	m := snapshot.NewManager()
	h := &harness{
		states: &states{m: m, ss: map[string]*snapshot.State[interface{}]{}},
		tree:   tree.NewTree("root"),
		r:      core.NewRecomposer(m),
	}
	t.Cleanup(h.r.Close)
	for k, v := range initial {
		h.states.add(t, k, v)
	}

	p, err := i.Compile(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	content, err := p.Content(&core.Env{
		States:  h.states,
		NewNode: func(typ string) interface{} { return tree.New(typ) },
	})
	if err != nil {
		t.Fatal(err)
	}
	h.c = h.r.NewComposition(tree.NewApplier(h.tree), h.tree.Root)
	h.c.SetContent(content)
	return h
}

func (h *harness) recompose(t *testing.T) {
	t.Helper()
	if _, err := h.c.Recompose(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) set(t *testing.T, name string, v interface{}) {
	t.Helper()
	if err := h.states.ss[name].Write(h.states.m.Global(), v); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) want(t *testing.T, want string) {
	t.Helper()
	if got := h.tree.String(); got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestProgramNodes(t *testing.T) {
	src := `
_.node("label", "title", {text: "hello " + _.state("who")});
_.group("g", function() {
  _.node("box", null, null, function() {
    _.node("dot");
  });
});
`
	h := compose(t, NewInterpreter(), src, map[string]interface{}{"who": "world"})
	h.recompose(t)
	h.want(t, `root(label[text="hello world"] box(dot))`)

	h.set(t, "who", "there")
	h.recompose(t)
	h.want(t, `root(label[text="hello there"] box(dot))`)
}

func TestProgramEach(t *testing.T) {
	src := map[string]interface{}{
		"code": `
_.each(_.state("items"), "id", function(item, i) {
  _.node("item", null, {name: item.name});
});
`,
	}
	items := func(names ...string) []interface{} {
		acc := make([]interface{}, len(names))
		for i, n := range names {
			acc[i] = map[string]interface{}{"id": n, "name": strings.ToUpper(n)}
		}
		return acc
	}
	h := compose(t, NewInterpreter(), src, map[string]interface{}{"items": items("a", "b", "c")})
	h.recompose(t)
	h.want(t, `root(item[name="A"] item[name="B"] item[name="C"])`)
	before := h.tree.Root.Children[2]

	h.set(t, "items", items("c", "a"))
	h.recompose(t)
	h.want(t, `root(item[name="C"] item[name="A"])`)
	if h.tree.Root.Children[0] != before {
		t.Fatal("item c was recreated")
	}
}

func TestProgramCallSkips(t *testing.T) {
	src := `
_.node("count", null, {n: _.state("n")});
_.call("fixed", [1], function() {
  _.node("fixed", null, {run: _.gensym()});
});
`
	h := compose(t, NewInterpreter(), src, map[string]interface{}{"n": 0})
	h.recompose(t)
	run := h.tree.Root.Children[1].Attrs["run"]

	h.set(t, "n", 1)
	h.recompose(t)
	if got := h.tree.Root.Children[0].Attrs["n"]; got != int64(1) {
		t.Fatalf("n is %#v", got)
	}
	if got := h.tree.Root.Children[1].Attrs["run"]; got != run {
		t.Fatal("call ran again")
	}
}

func TestProgramRemember(t *testing.T) {
	src := `
var o = _.remember(function() { return {born: _.gensym()}; });
_.node("x", null, {born: o.born, tick: _.state("tick")});
`
	h := compose(t, NewInterpreter(), src, map[string]interface{}{"tick": 0})
	h.recompose(t)
	born := h.tree.Root.Children[0].Attrs["born"]
	h.set(t, "tick", 1)
	h.recompose(t)
	if got := h.tree.Root.Children[0].Attrs["born"]; got != born {
		t.Fatalf("remembered value changed from %v to %v", born, got)
	}
}

func TestProgramRequires(t *testing.T) {
	i := NewInterpreter()
	i.Inline = true
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"greet": `function greet(s) { return "hi " + s; }`,
		"sq":    `function sq(x) { return x * x; }`,
	})
	src := map[string]interface{}{
		"requires": []interface{}{"sq"},
		"code": `require("greet");
_.node("label", null, {text: greet("you"), n: sq(3)});`,
	}
	h := compose(t, i, src, nil)
	h.recompose(t)
	h.want(t, `root(label[n=9 text="hi you"])`)
}

func TestProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"throw", `throw "nope";`},
		{"unknown-state", `_.state("nope");`},
		{"bad-cron", `_.cronNext("bad");`},
		{"bad-attrs", `_.node("x", null, 3);`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := compose(t, NewInterpreter(), test.src, nil)
			_, err := h.c.Recompose(context.Background())
			var ce *core.CompositionError
			if !errors.As(err, &ce) {
				t.Fatalf("got %v", err)
			}
			if len(h.tree.Root.Children) != 0 {
				t.Fatal("tree changed")
			}
		})
	}
}

func TestProgramTimeout(t *testing.T) {
	i := NewInterpreter()
	i.Testing = true
	h := compose(t, i, `for (;;) { sleep(10); }`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.c.Recompose(ctx)
	if !errors.Is(err, Interrupted) {
		t.Fatalf("got %v", err)
	}
}

func TestCronNext(t *testing.T) {
	src := `_.node("next", null, {at: _.cronNext("* 0 * * *")});`
	h := compose(t, NewInterpreter(), src, nil)
	h.recompose(t)
	at, _ := h.tree.Root.Children[0].Attrs["at"].(string)
	if _, err := time.Parse(time.RFC3339Nano, at); err != nil {
		t.Fatal(err)
	}
}

func TestCompileErrors(t *testing.T) {
	i := NewInterpreter()
	ctx := context.Background()
	for _, src := range []interface{}{
		`this is not javascript`,
		map[string]interface{}{"code": 42},
		map[string]interface{}{"code": "", "requires": "missing"},
		42,
	} {
		if _, err := i.Compile(ctx, src); err == nil {
			t.Fatalf("compiled %#v", src)
		}
	}
}

func TestProgramSource(t *testing.T) {
	ps := &core.ProgramSource{
		Interpreter: "goja",
		Source:      `_.node("x");`,
	}
	if _, err := ps.Compile(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	ps.Interpreter = "cobol"
	if _, err := ps.Compile(context.Background(), nil); err != core.InterpreterNotFound {
		t.Fatalf("got %v", err)
	}
}
