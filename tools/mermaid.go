/* Copyright 2018 Comcast Cable Communications Management, LLC
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
	"fmt"
	"io"
	"strings"

	"github.com/Comcast/strata/slots"
)

type MermaidOpts struct {
	// ShowKeys labels each group with its key.  Otherwise groups
	// are labeled with their index.
	ShowKeys bool `json:"showKeys"`

	// NodeFill is the fill color for node groups.
	NodeFill string `json:"nodeFill,omitempty"`

	// MaxLabel truncates labels.  Zero means 40.
	MaxLabel int `json:"maxLabel,omitempty"`
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the group hierarchy of the given slot table.
func Mermaid(t *slots.Table, w io.Writer, opts *MermaidOpts) error {
	if opts == nil {
		opts = &MermaidOpts{
			ShowKeys: true,
			NodeFill: "#bcf2db",
		}
	}
	max := opts.MaxLabel
	if max <= 0 {
		max = 40
	}

	fmt.Fprintf(w, "graph TB\n")

	err := t.Read(func(r *slots.Reader) error {
		var parents []int
		return r.Walk(func(index, depth int, g slots.Group, _ []interface{}) error {
			parents = parents[:depth]
			nid := fmt.Sprintf("g%d", index)

			label := fmt.Sprintf("%d", index)
			if opts.ShowKeys {
				label = fmt.Sprintf("%v", g.Key)
				if max < len(label) {
					label = "..." + label[len(label)-max+3:]
				}
			}
			label = strings.Replace(label, `"`, `'`, -1)

			if g.Kind == slots.KindNode {
				fmt.Fprintf(w, "  %s(\"%s\")\n", nid, label)
				if opts.NodeFill != "" {
					fmt.Fprintf(w, "  style %s fill:%s\n", nid, opts.NodeFill)
				}
			} else {
				fmt.Fprintf(w, "  %s[\"%s\"]\n", nid, label)
			}
			if 0 < depth {
				fmt.Fprintf(w, "  g%d --> %s\n", parents[depth-1], nid)
			}
			parents = append(parents, index)
			return nil
		})
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "\n")
	return err
}
