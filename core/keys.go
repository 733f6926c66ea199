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
	"runtime"
	"strconv"
)

// CallSite is a group key derived from source position.
type CallSite struct {
	File string
	Line int
}

func (k CallSite) String() string {
	return k.File + ":" + strconv.Itoa(k.Line)
}

// SourceKey returns a key for the location of its caller.  Calls
// from different lines get different keys.  Calls from a loop all
// get the same key, so combine them with an explicit key using
// JoinedKey.
func SourceKey() CallSite {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return CallSite{File: "?"}
	}
	return CallSite{File: file, Line: line}
}

// JoinedKey combines two keys, typically a CallSite and an explicit
// key supplied by the caller.
type JoinedKey struct {
	Left  interface{}
	Right interface{}
}

// Join makes a JoinedKey.  A nil side is dropped.
func Join(left, right interface{}) interface{} {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	return JoinedKey{Left: left, Right: right}
}
