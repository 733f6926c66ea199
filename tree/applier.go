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
	"fmt"

	"github.com/Comcast/strata/core"
)

// Change describes one applied edit.  It's the JSON form hosts send
// to renderers.
type Change struct {
	Op     string      `json:"op"`
	Parent string      `json:"parent,omitempty"`
	Index  int         `json:"index,omitempty"`
	From   int         `json:"from,omitempty"`
	To     int         `json:"to,omitempty"`
	Count  int         `json:"count,omitempty"`
	Node   *Node       `json:"node,omitempty"`
	ID     string      `json:"id,omitempty"`
	Attr   string      `json:"attr,omitempty"`
	Value  interface{} `json:"value,omitempty"`
}

// BadOpError reports an edit that doesn't fit the tree.
type BadOpError struct {
	Op     string
	Reason string
}

func (e *BadOpError) Error() string {
	return "bad " + e.Op + ": " + e.Reason
}

// Applier applies change lists to a Tree.
type Applier struct {
	Tree *Tree

	// OnChange, if not nil, is called with each applied edit while
	// the tree's write lock is held.
	OnChange func(Change)
}

var _ core.Applier = (*Applier)(nil)

// NewApplier makes an Applier for t.
func NewApplier(t *Tree) *Applier {
	return &Applier{
		Tree: t,
	}
}

func asNode(op string, x interface{}) (*Node, error) {
	n, is := x.(*Node)
	if !is || n == nil {
		return nil, &BadOpError{Op: op, Reason: fmt.Sprintf("%T isn't a *Node", x)}
	}
	return n, nil
}

func (a *Applier) changed(c Change) {
	if a.OnChange != nil {
		a.OnChange(c)
	}
}

func (a *Applier) Insert(parent interface{}, index int, node interface{}) error {
	p, err := asNode("insert", parent)
	if err != nil {
		return err
	}
	n, err := asNode("insert", node)
	if err != nil {
		return err
	}

	a.Tree.Lock()
	defer a.Tree.Unlock()
	if index < 0 || len(p.Children) < index {
		return &BadOpError{Op: "insert", Reason: fmt.Sprintf("index %d out of range", index)}
	}
	p.Children = append(p.Children, nil)
	copy(p.Children[index+1:], p.Children[index:])
	p.Children[index] = n
	a.changed(Change{Op: "insert", Parent: p.ID, Index: index, Node: n.Copy()})
	return nil
}

func (a *Applier) Remove(parent interface{}, index, count int) error {
	p, err := asNode("remove", parent)
	if err != nil {
		return err
	}

	a.Tree.Lock()
	defer a.Tree.Unlock()
	if index < 0 || count < 0 || len(p.Children) < index+count {
		return &BadOpError{Op: "remove", Reason: fmt.Sprintf("%d at %d out of range", count, index)}
	}
	n := copy(p.Children[index:], p.Children[index+count:])
	clear(p.Children[index+n:])
	p.Children = p.Children[:index+n]
	a.changed(Change{Op: "remove", Parent: p.ID, Index: index, Count: count})
	return nil
}

func (a *Applier) Move(parent interface{}, from, to, count int) error {
	p, err := asNode("move", parent)
	if err != nil {
		return err
	}

	a.Tree.Lock()
	defer a.Tree.Unlock()
	kids := p.Children
	if from < 0 || count < 0 || len(kids) < from+count || to < 0 || len(kids) < to {
		return &BadOpError{Op: "move", Reason: fmt.Sprintf("%d from %d to %d out of range", count, from, to)}
	}
	block := append([]*Node(nil), kids[from:from+count]...)
	rest := append(append(make([]*Node, 0, len(kids)), kids[:from]...), kids[from+count:]...)
	at := core.MoveDestination(from, to, count)
	p.Children = append(rest[:at], append(block, rest[at:]...)...)
	a.changed(Change{Op: "move", Parent: p.ID, From: from, To: to, Count: count})
	return nil
}

func (a *Applier) Update(node interface{}, attr string, value interface{}) error {
	n, err := asNode("update", node)
	if err != nil {
		return err
	}

	a.Tree.Lock()
	defer a.Tree.Unlock()
	if n.Attrs == nil {
		n.Attrs = make(map[string]interface{})
	}
	if value == nil {
		delete(n.Attrs, attr)
	} else {
		n.Attrs[attr] = value
	}
	a.changed(Change{Op: "update", ID: n.ID, Attr: attr, Value: value})
	return nil
}
