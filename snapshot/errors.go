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

package snapshot

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrGlobalApply is returned when something tries to apply the
	// global snapshot.  Use SendApplyNotifications instead.
	ErrGlobalApply = errors.New("the global snapshot cannot be applied")

	// ErrNestedActive is returned by Apply when the snapshot still
	// has active nested snapshots.
	ErrNestedActive = errors.New("snapshot has active nested snapshots")
)

// SnapshotReadError reports a read that found no record visible to
// the reading snapshot, which means the object was created in a
// snapshot the reader cannot see.
type SnapshotReadError struct {
	Object   string
	Snapshot ID
}

func (e *SnapshotReadError) Error() string {
	return "no record of '" + e.Object + "' is visible to snapshot " + strconv.FormatInt(int64(e.Snapshot), 10)
}

// ApplyConflictError reports objects that another snapshot committed
// while this one was open, with no merge policy able to reconcile the
// values.
//
// This error is expected at runtime: retry the whole computation in a
// fresh snapshot.
type ApplyConflictError struct {
	Snapshot ID
	Objects  []string
}

func (e *ApplyConflictError) Error() string {
	return "snapshot " + strconv.FormatInt(int64(e.Snapshot), 10) +
		" conflicts on " + strings.Join(e.Objects, ", ")
}

// Retryable is always true.
func (e *ApplyConflictError) Retryable() bool {
	return true
}

// DisposedSnapshotUseError reports an operation on a snapshot that
// was already disposed or applied.
type DisposedSnapshotUseError struct {
	Snapshot ID
	Op       string
}

func (e *DisposedSnapshotUseError) Error() string {
	return "snapshot " + strconv.FormatInt(int64(e.Snapshot), 10) + " is closed; can't " + e.Op
}

// ReadOnlyWriteError reports a write attempted in a read-only
// snapshot.
type ReadOnlyWriteError struct {
	Snapshot ID
	Object   string
}

func (e *ReadOnlyWriteError) Error() string {
	return "can't write '" + e.Object + "' in read-only snapshot " + strconv.FormatInt(int64(e.Snapshot), 10)
}

// IsConflict reports whether err (or something it wraps) is an
// ApplyConflictError.
func IsConflict(err error) bool {
	var ce *ApplyConflictError
	return errors.As(err, &ce)
}
