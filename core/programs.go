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

	"github.com/Comcast/strata/snapshot"

	"github.com/hashicorp/go-hclog"
)

var (
	InterpreterNotFound = errors.New("interpreter not found")

	// DefaultInterpreters is used by ProgramSource.Compile when
	// given nil interpreters.
	DefaultInterpreters = make(map[string]Interpreter)
)

// StateProvider resolves the named states a program reads and writes.
type StateProvider interface {
	State(name string) (*snapshot.State[interface{}], error)
}

// Env is what a program can reach while it composes.
type Env struct {
	States StateProvider

	// NewNode makes a node of the given type.
	NewNode func(typ string) interface{}

	Logger hclog.Logger
}

// Interpreter compiles program source into a Program.
type Interpreter interface {
	Compile(ctx context.Context, src interface{}) (Program, error)
}

// Program is compiled composable code.
type Program interface {
	// Content returns composition content that runs the program
	// in env.  Content from one call must only be used by one
	// Composition.
	Content(env *Env) (Composable, error)
}

// ProgramSource names an interpreter and the source it should
// compile.
type ProgramSource struct {
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Doc         string      `json:"doc,omitempty" yaml:"doc,omitempty"`
	Interpreter string      `json:"interpreter" yaml:"interpreter"`
	Source      interface{} `json:"source" yaml:"source"`
}

// Compile compiles the source with the named interpreter from
// interpreters, which defaults to DefaultInterpreters.
func (s *ProgramSource) Compile(ctx context.Context, interpreters map[string]Interpreter) (Program, error) {
	if interpreters == nil {
		interpreters = DefaultInterpreters
	}
	i, have := interpreters[s.Interpreter]
	if !have {
		return nil, InterpreterNotFound
	}
	return i.Compile(ctx, s.Source)
}
