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

// dot -Tpng g.dot > g.png

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/Comcast/strata/tree"
)

// Dot makes a Graphviz dot file for the given tree.
//
// The optional highlight is the id of a node to draw in red, say the
// node an update just touched.
func Dot(root *tree.Node, w io.Writer, highlight string) error {
	fmt.Fprintf(w, "digraph G {\n")
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
`)

	ids := make(map[*tree.Node]string)
	var node func(n *tree.Node) string
	node = func(n *tree.Node) string {
		id := fmt.Sprintf("n%d", len(ids))
		ids[n] = id

		label := escbraces(n.Type)
		if 0 < len(n.Attrs) {
			ks := make([]string, 0, len(n.Attrs))
			for k := range n.Attrs {
				ks = append(ks, k)
			}
			sort.Strings(ks)
			for _, k := range ks {
				js, err := json.Marshal(n.Attrs[k])
				if err != nil {
					js = []byte(err.Error())
				}
				label += "|" + escbraces(k+"="+string(js))
			}
			label = "{" + label + "}"
		}

		color, fillcolor := "black", "#99ddc8"
		if len(n.Children) == 0 {
			fillcolor = "#52aa5e"
		}
		if highlight != "" && n.ID == highlight {
			color, fillcolor = "red", "#f98b8b"
		}
		fmt.Fprintf(w, "  %s [color=\"%s\", fillcolor=\"%s\", label=\"%s\"]\n",
			id, color, fillcolor, escape(label))

		for i, c := range n.Children {
			cid := node(c)
			fmt.Fprintf(w, "  %s -> %s [label=\"%d\"]\n", id, cid, i)
		}
		return id
	}
	node(root)

	_, err := fmt.Fprintf(w, "}\n")
	return err
}

// PNG generates a PNG image based on output from Dot.
//
// This function with write two files: basename.dot and basename.png,
// where the basename is the given string.
func PNG(root *tree.Node, basename string, highlight string) (string, error) {
	dotname := basename + ".dot"
	pngname := basename + ".png"

	dotfile, err := os.Create(dotname)
	if err != nil {
		return pngname, err
	}
	if err := Dot(root, dotfile, highlight); err != nil {
		dotfile.Close()
		return pngname, err
	}
	if err := dotfile.Close(); err != nil {
		return pngname, err
	}
	if err := exec.Command("dot", "-Tpng", "-o", pngname, dotname).Run(); err != nil {
		return pngname, err
	}
	return pngname, nil
}

func escape(s string) string {
	return strings.Replace(s, `"`, `\"`, -1)
}

func escbraces(s string) string {
	s = strings.Replace(s, "{", "\\{", -1)
	s = strings.Replace(s, "}", "\\}", -1)
	s = strings.Replace(s, "|", "\\|", -1)
	s = strings.Replace(s, "<", "\\<", -1)
	s = strings.Replace(s, ">", "\\>", -1)
	return s
}
