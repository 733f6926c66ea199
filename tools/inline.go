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
	"errors"
	"os"
	"path/filepath"
	"regexp"
)

// MaxInlineDepth bounds nested inlines.
var MaxInlineDepth = 8

var inlinePattern = regexp.MustCompile(`(?s)(.*?)(%inline *\("([^"]*)"\))`)

// Inline replaces '%inline("NAME")' with f(NAME).
func Inline(bs []byte, f func(string) ([]byte, error)) ([]byte, error) {
	i := 0
	acc := make([]byte, 0, len(bs))
	for {
		part := inlinePattern.FindSubmatch(bs[i:])
		if part == nil {
			acc = append(acc, bs[i:]...)
			break
		}
		i += len(part[0])
		acc = append(acc, part[1]...)
		replacement, err := f(string(part[3]))
		if err != nil {
			return nil, err
		}
		acc = append(acc, replacement...)
	}

	return acc, nil
}

// InlineFiles inlines files relative to dir.  Inlined files can
// themselves inline other files, up to MaxInlineDepth deep.
func InlineFiles(bs []byte, dir string) ([]byte, error) {
	var f func(depth int) func(string) ([]byte, error)
	f = func(depth int) func(string) ([]byte, error) {
		return func(name string) ([]byte, error) {
			if MaxInlineDepth < depth {
				return nil, errors.New("inlines nested too deeply at " + name)
			}
			bs, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			return Inline(bs, f(depth+1))
		}
	}
	return Inline(bs, f(1))
}

// ReadFileWithInlines is a replacement for os.ReadFile that inlines
// files relative to the filename's directory.
func ReadFileWithInlines(filename string) ([]byte, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return InlineFiles(bs, filepath.Dir(filename))
}
