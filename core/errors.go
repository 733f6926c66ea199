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

// Most of these errors are programmer errors in composable code.  The
// Composer panics with them and the pass turns the panic into a
// CompositionError after rolling back.

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrDisposed is returned when a disposed Composition is used.
var ErrDisposed = errors.New("composition is disposed")

// CompositionError reports a pass that failed while composing a
// group.  Nothing from the pass was committed.
type CompositionError struct {
	// Group is the index of the innermost open group, or -1.
	Group int

	// Key is that group's key.
	Key interface{}

	Cause error
}

func (e *CompositionError) Error() string {
	return "composition failed in group " + strconv.Itoa(e.Group) +
		" (key " + fmt.Sprintf("%v", e.Key) + "): " + e.Cause.Error()
}

func (e *CompositionError) Unwrap() error {
	return e.Cause
}

// NoNodeError occurs when Set is called outside of any node group.
type NoNodeError struct {
	Attr string
}

func (e *NoNodeError) Error() string {
	return `can't set "` + e.Attr + `" outside of a node`
}

// UnbalancedError occurs when composable code leaves groups open.
type UnbalancedError struct {
	Depth int
}

func (e *UnbalancedError) Error() string {
	return "composition left " + strconv.Itoa(e.Depth) + " groups open"
}

// panicError converts a recovered value to an error.
func panicError(x interface{}) error {
	if err, is := x.(error); is {
		return err
	}
	return fmt.Errorf("%v", x)
}
