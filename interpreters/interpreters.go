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

// Package interpreters collects the program interpreters a host can
// use.
package interpreters

import (
	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/interpreters/goja"
)

// Standard returns the interpreters by name.
func Standard() map[string]core.Interpreter {
	is := make(map[string]core.Interpreter, 4)

	// Remote libraries are shared by both interpreters.
	provider, err := goja.MakeCachingLibraryProvider(goja.LibraryCacheSize, goja.DefaultLibraryProvider)
	if err != nil {
		provider = goja.DefaultLibraryProvider
	}

	es := goja.NewInterpreter()
	es.LibraryProvider = provider
	is["goja"] = es
	is["ecmascript"] = es

	inline := goja.NewInterpreter()
	inline.Inline = true
	inline.LibraryProvider = provider
	is["goja-inline"] = inline

	return is
}
