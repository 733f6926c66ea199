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

package sio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/interpreters"
	"github.com/Comcast/strata/tools"

	"github.com/jsccast/yaml"
)

// DefaultInterpreter is used for programs that don't name one.
var DefaultInterpreter = "goja"

// ParseProgram parses a program document.  The document can be JSON
// or YAML.  A filename ending in ".js" is taken as bare code.
func ParseProgram(filename string, bs []byte) (*core.ProgramSource, error) {
	bs = bytes.TrimSpace(bs)
	if len(bs) == 0 {
		return nil, errors.New("program source is empty")
	}

	var src core.ProgramSource
	if filepath.Ext(filename) == ".js" {
		src.Source = string(bs)
	} else {
		var err error
		switch bs[0] {
		case '{':
			err = json.Unmarshal(bs, &src)
		default:
			err = yaml.Unmarshal(bs, &src)
		}
		if err != nil {
			return nil, err
		}
	}
	if src.Name == "" {
		src.Name = filepath.Base(filename)
	}
	if src.Interpreter == "" {
		src.Interpreter = DefaultInterpreter
	}
	if src.Source == nil {
		return nil, errors.New("program " + src.Name + " has no source")
	}
	return &src, nil
}

// LoadProgram reads and parses a program document.  The file can
// use '%inline("NAME")' to include files from its directory.
func LoadProgram(filename string) (*core.ProgramSource, error) {
	bs, err := tools.ReadFileWithInlines(filename)
	if err != nil {
		return nil, err
	}
	return ParseProgram(filename, bs)
}

// CompileProgram compiles src with the given interpreters, which
// default to interpreters.Standard().
func CompileProgram(ctx context.Context, src *core.ProgramSource, is map[string]core.Interpreter) (core.Program, error) {
	if is == nil {
		is = interpreters.Standard()
	}
	p, err := src.Compile(ctx, is)
	if err == core.InterpreterNotFound {
		return nil, errors.New("program " + src.Name + ": interpreter " + src.Interpreter + " not found")
	}
	return p, err
}
