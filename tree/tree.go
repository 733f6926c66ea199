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

// Package tree is a reference node tree for compositions.  Applier
// edits a Tree as a Composition's change list is applied, and can
// report each edit as a Change.
package tree

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Node is a node in a Tree.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Attrs    map[string]interface{} `json:"attrs,omitempty"`
	Children []*Node                `json:"children,omitempty"`
}

// New makes a detached Node with a fresh id.
func New(typ string) *Node {
	return &Node{
		ID:    uuid.NewString(),
		Type:  typ,
		Attrs: make(map[string]interface{}),
	}
}

// Copy returns a deep copy of the node.  Attribute values are shared.
func (n *Node) Copy() *Node {
	acc := &Node{
		ID:    n.ID,
		Type:  n.Type,
		Attrs: make(map[string]interface{}, len(n.Attrs)),
	}
	for k, v := range n.Attrs {
		acc.Attrs[k] = v
	}
	if n.Children != nil {
		acc.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			acc.Children[i] = c.Copy()
		}
	}
	return acc
}

// Find returns the node with the given id in the subtree at n.
func (n *Node) Find(id string) *Node {
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Types returns the types of n's children.
func (n *Node) Types() []string {
	acc := make([]string, len(n.Children))
	for i, c := range n.Children {
		acc[i] = c.Type
	}
	return acc
}

func (n *Node) write(b *strings.Builder) {
	b.WriteString(n.Type)
	if len(n.Attrs) > 0 {
		ks := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		b.WriteString("[")
		for i, k := range ks {
			if 0 < i {
				b.WriteString(" ")
			}
			js, err := json.Marshal(n.Attrs[k])
			if err != nil {
				js = []byte("?")
			}
			b.WriteString(k + "=" + string(js))
		}
		b.WriteString("]")
	}
	if len(n.Children) > 0 {
		b.WriteString("(")
		for i, c := range n.Children {
			if 0 < i {
				b.WriteString(" ")
			}
			c.write(b)
		}
		b.WriteString(")")
	}
}

// String renders the subtree compactly, for example
// "root(label[text=\"hi\"] box)".  Ids are omitted.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

// Tree is a Node tree guarded by a lock.
type Tree struct {
	sync.RWMutex

	Root *Node `json:"root"`
}

// NewTree makes a Tree with a root of the given type.
func NewTree(typ string) *Tree {
	return &Tree{
		Root: New(typ),
	}
}

// Copy gets a read lock and returns a deep copy of the tree.
func (t *Tree) Copy() *Tree {
	t.RLock()
	defer t.RUnlock()
	return &Tree{
		Root: t.Root.Copy(),
	}
}

func (t *Tree) String() string {
	t.RLock()
	defer t.RUnlock()
	return t.Root.String()
}

// MarshalJSON gets a read lock and renders the tree.
func (t *Tree) MarshalJSON() ([]byte, error) {
	t.RLock()
	defer t.RUnlock()
	return json.Marshal(map[string]interface{}{
		"root": t.Root,
	})
}
