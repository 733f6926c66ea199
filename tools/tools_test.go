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

package tools

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"
	"github.com/Comcast/strata/tree"
)

func composed(t *testing.T) (*core.Composition, *tree.Tree) {
	t.Helper()
	m := snapshot.NewManager()
	r := core.NewRecomposer(m)
	t.Cleanup(r.Close)

	tr := tree.NewTree("root")
	c := r.NewComposition(tree.NewApplier(tr), tr.Root)
	c.SetContent(func(cm *core.Composer) {
		for _, it := range []string{"x", "y"} {
			it := it
			cm.Node(it, func() interface{} { return tree.New("item") }, func(cm *core.Composer) {
				cm.Set("name", it)
			})
		}
	})
	if _, err := c.Recompose(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c, tr
}

func TestTableMarkdown(t *testing.T) {
	c, _ := composed(t)

	var b bytes.Buffer
	if err := TableMarkdown(c.Table(), &b); err != nil {
		t.Fatal(err)
	}
	got := b.String()
	for _, want := range []string{"| index |", "| node |", "`x`", "`y`"} {
		if !strings.Contains(got, want) {
			t.Fatalf("no %q in\n%s", want, got)
		}
	}
}

func TestRenderTableHTML(t *testing.T) {
	c, _ := composed(t)

	t.Run("fragment", func(t *testing.T) {
		var b bytes.Buffer
		if err := RenderTableHTML(c.Table(), &b); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(b.String(), "<table>") {
			t.Fatal(b.String())
		}
	})

	t.Run("page", func(t *testing.T) {
		var b bytes.Buffer
		if err := RenderTablePage(c.Table(), "slots", &b, []string{"table.css"}); err != nil {
			t.Fatal(err)
		}
		got := b.String()
		if !strings.Contains(got, "<title>slots</title>") || !strings.Contains(got, "table.css") {
			t.Fatal(got)
		}
	})
}

func TestMermaid(t *testing.T) {
	c, _ := composed(t)

	var b bytes.Buffer
	if err := Mermaid(c.Table(), &b, nil); err != nil {
		t.Fatal(err)
	}
	got := b.String()
	if !strings.HasPrefix(got, "graph TB\n") {
		t.Fatal(got)
	}
	if !strings.Contains(got, `("x")`) || !strings.Contains(got, "-->") {
		t.Fatal(got)
	}
}

func TestDot(t *testing.T) {
	_, tr := composed(t)

	var b bytes.Buffer
	if err := Dot(tr.Root, &b, tr.Root.Children[0].ID); err != nil {
		t.Fatal(err)
	}
	got := b.String()
	for _, want := range []string{"digraph G {", `name=\"x\"`, `color="red"`, "n0 -> n1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("no %q in\n%s", want, got)
		}
	}
}

func TestInline(t *testing.T) {
	input := `
I like %inline("tacos"), and
I also like %inline("queso").
Both are delicious.
`
	want := `
I like TACOS, and
I also like QUESO.
Both are delicious.
`

	find := func(name string) ([]byte, error) {
		return []byte(strings.ToUpper(name)), nil
	}

	got, err := Inline([]byte(input), find)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Fatalf("got %s", got)
	}
}

func TestInlineFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, s string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(s), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.js", `var x = %inline("a.js");`)
	write("a.js", `[%inline("b.js")]`)
	write("b.js", `1`)
	write("loop.js", `%inline("loop.js")`)

	got, err := ReadFileWithInlines(filepath.Join(dir, "main.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `var x = [1];` {
		t.Fatalf("got %s", got)
	}

	if _, err := ReadFileWithInlines(filepath.Join(dir, "loop.js")); err == nil {
		t.Fatal("expected an error")
	}
}
