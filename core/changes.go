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
	"fmt"
	"strings"
)

// OpKind is the kind of a change.
type OpKind int

const (
	OpInsert OpKind = iota
	OpRemove
	OpMove
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpMove:
		return "move"
	case OpUpdate:
		return "update"
	}
	return "unknown"
}

// Op is one change to the node tree.
//
// Insert uses Parent, Index, and Node.  Remove uses Parent, Index, and
// Count.  Move uses Parent, From, To, and Count.  Update uses Node,
// Attr, and Value.
type Op struct {
	Kind   OpKind
	Parent interface{}
	Index  int
	From   int
	To     int
	Count  int
	Node   interface{}
	Attr   string
	Value  interface{}
}

func (o Op) String() string {
	switch o.Kind {
	case OpInsert:
		return fmt.Sprintf("insert %v at %d", o.Node, o.Index)
	case OpRemove:
		return fmt.Sprintf("remove %d at %d", o.Count, o.Index)
	case OpMove:
		return fmt.Sprintf("move %d from %d to %d", o.Count, o.From, o.To)
	case OpUpdate:
		return fmt.Sprintf("update %v %s=%v", o.Node, o.Attr, o.Value)
	}
	return "unknown op"
}

// Applier edits the real node tree.
//
// Indexes refer to the parent's children before the op.  For Move,
// the count children starting at from are moved so that they precede
// the child that was at to.  The block ends up at to if from > to,
// and at to-count otherwise.
type Applier interface {
	Insert(parent interface{}, index int, node interface{}) error
	Remove(parent interface{}, index, count int) error
	Move(parent interface{}, from, to, count int) error
	Update(node interface{}, attr string, value interface{}) error
}

// ChangeList is a buffered sequence of Ops.
type ChangeList []Op

// Apply sends each op to a, stopping at the first error.
func (cl ChangeList) Apply(a Applier) error {
	for _, o := range cl {
		var err error
		switch o.Kind {
		case OpInsert:
			err = a.Insert(o.Parent, o.Index, o.Node)
		case OpRemove:
			err = a.Remove(o.Parent, o.Index, o.Count)
		case OpMove:
			err = a.Move(o.Parent, o.From, o.To, o.Count)
		case OpUpdate:
			err = a.Update(o.Node, o.Attr, o.Value)
		}
		if err != nil {
			return err
		}
		opsTotal.WithLabelValues(o.Kind.String()).Inc()
	}
	return nil
}

// Count returns the number of ops of each kind.
func (cl ChangeList) Count() map[OpKind]int {
	acc := make(map[OpKind]int, 4)
	for _, o := range cl {
		acc[o.Kind]++
	}
	return acc
}

func (cl ChangeList) String() string {
	ss := make([]string, len(cl))
	for i, o := range cl {
		ss[i] = o.String()
	}
	return strings.Join(ss, "; ")
}

// MoveDestination is where a Move(from, to, count) puts the block.
func MoveDestination(from, to, count int) int {
	if from > to {
		return to
	}
	return to - count
}
