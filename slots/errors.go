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

package slots

import (
	"errors"
	"strconv"
)

var (
	// ErrReaderClosed is returned by every Reader method after
	// Close.
	ErrReaderClosed = errors.New("slot table reader is closed")

	// ErrWriterClosed is returned by every Writer method after
	// Close or Abort.
	ErrWriterClosed = errors.New("slot table writer is closed")
)

// StructuralIntegrityError reports a writer operation that would
// break the nesting of the table, or that doesn't match what is at
// the cursor.
type StructuralIntegrityError struct {
	Op     string
	Index  int
	Reason string
}

func (e *StructuralIntegrityError) Error() string {
	return "slots: " + e.Op + " at " + strconv.Itoa(e.Index) + ": " + e.Reason
}

// ConcurrentWriterError is returned by OpenWriter when the table
// already has an open writer.
type ConcurrentWriterError struct{}

func (e *ConcurrentWriterError) Error() string {
	return "slots: table already has an open writer"
}

func integrity(op string, index int, reason string) error {
	return &StructuralIntegrityError{
		Op:     op,
		Index:  index,
		Reason: reason,
	}
}
