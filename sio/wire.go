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
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ShortLimit is the most runes Abbrev keeps.
var ShortLimit = 72

// JS renders x on one line the way the couplings put it on the wire.
// Node text often carries markup, so '<', '>' and '&' are left alone.
// Values that aren't JSON come out as '%#v'.
func JS(x interface{}) string {
	if x == nil {
		return "null"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Pretty is JS with indentation, for tools that print trees.
func Pretty(x interface{}) string {
	s := JS(x)
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

// Abbrev is JS cut to ShortLimit runes, for logs and BadMessageError.
// The cut never splits a rune.
func Abbrev(x interface{}) string {
	s := JS(x)
	if utf8.RuneCountInString(s) <= ShortLimit {
		return s
	}
	n := 0
	for i := range s {
		if n == ShortLimit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
