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
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// InlineRequires replaces each top-level statement require("name")
// in src with the source the provider returns for name.
//
// The rewrite is textual, guided by the parsed program, so the result
// can still be compiled once and run many times.  Only statements at
// the top level of src are considered.
func InlineRequires(ctx context.Context, src string, provider func(context.Context, string) (string, error)) (string, error) {
	p, err := parser.ParseFile(nil, "", src, 0)
	if err != nil {
		return "", err
	}

	var (
		b    strings.Builder
		last int
	)
	for _, s := range p.Body {
		exps, is := s.(*ast.ExpressionStatement)
		if !is {
			continue
		}
		call, is := exps.Expression.(*ast.CallExpression)
		if !is {
			continue
		}
		id, is := call.Callee.(*ast.Identifier)
		if !is || id.Name != "require" {
			continue
		}
		if len(call.ArgumentList) != 1 {
			return "", fmt.Errorf("bad require args: %#v", call.ArgumentList)
		}
		lit, is := call.ArgumentList[0].(*ast.StringLiteral)
		if !is {
			return "", fmt.Errorf("bad require arg: %#v", call.ArgumentList[0])
		}

		lib, err := provider(ctx, lit.Value.String())
		if err != nil {
			return "", err
		}

		// Idx0 and Idx1 are 1-based.
		from, to := int(exps.Idx0())-1, int(exps.Idx1())-1
		if to < len(src) && src[to] == ';' {
			to++
		}
		b.WriteString(src[last:from])
		b.WriteString(lib)
		b.WriteString("\n")
		last = to
	}
	b.WriteString(src[last:])
	return b.String(), nil
}
