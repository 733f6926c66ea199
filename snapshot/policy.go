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
	"reflect"
)

// Policy controls how a State compares and reconciles values.
//
// Equivalent decides whether a write is a no-op and whether a
// concurrent write actually conflicts.  Merge is consulted at apply
// time when another snapshot committed a different value to the same
// State.  Merge returns false if it cannot reconcile the values, which
// fails the apply.
type Policy[T any] interface {
	Equivalent(a, b T) bool
	Merge(previous, current, applied T) (T, bool)
}

// Number is the constraint for Summing.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

type structural[T any] struct{}

func (structural[T]) Equivalent(a, b T) bool {
	return reflect.DeepEqual(a, b)
}

func (structural[T]) Merge(previous, current, applied T) (T, bool) {
	var zero T
	return zero, false
}

// StructuralEquality treats deeply equal values as the same and never
// merges.  This is the policy NewState uses when given nil.
func StructuralEquality[T any]() Policy[T] {
	return structural[T]{}
}

type lastWriteWins[T any] struct{}

func (lastWriteWins[T]) Equivalent(a, b T) bool {
	return reflect.DeepEqual(a, b)
}

func (lastWriteWins[T]) Merge(previous, current, applied T) (T, bool) {
	return applied, true
}

// LastWriteWins lets the snapshot that applies last win any
// conflict.
func LastWriteWins[T any]() Policy[T] {
	return lastWriteWins[T]{}
}

type referential[T comparable] struct{}

func (referential[T]) Equivalent(a, b T) bool {
	return a == b
}

func (referential[T]) Merge(previous, current, applied T) (T, bool) {
	var zero T
	return zero, false
}

// Referential compares with == and never merges.
func Referential[T comparable]() Policy[T] {
	return referential[T]{}
}

type neverEqual[T any] struct{}

func (neverEqual[T]) Equivalent(a, b T) bool {
	return false
}

func (neverEqual[T]) Merge(previous, current, applied T) (T, bool) {
	var zero T
	return zero, false
}

// NeverEqual makes every write count, even of an identical value.
func NeverEqual[T any]() Policy[T] {
	return neverEqual[T]{}
}

type summing[T Number] struct{}

func (summing[T]) Equivalent(a, b T) bool {
	return a == b
}

func (summing[T]) Merge(previous, current, applied T) (T, bool) {
	return current + (applied - previous), true
}

// Summing merges concurrent updates to a number by adding their
// deltas.  Two snapshots that each add one to a counter end with the
// counter two larger.
func Summing[T Number]() Policy[T] {
	return summing[T]{}
}

type mergeFunc[T any] struct {
	equal func(a, b T) bool
	merge func(previous, current, applied T) (T, bool)
}

func (p mergeFunc[T]) Equivalent(a, b T) bool {
	if p.equal == nil {
		return reflect.DeepEqual(a, b)
	}
	return p.equal(a, b)
}

func (p mergeFunc[T]) Merge(previous, current, applied T) (T, bool) {
	if p.merge == nil {
		var zero T
		return zero, false
	}
	return p.merge(previous, current, applied)
}

// MergeFunc builds a Policy from functions.  A nil equal uses
// reflect.DeepEqual, and a nil merge never merges.
func MergeFunc[T any](equal func(a, b T) bool, merge func(previous, current, applied T) (T, bool)) Policy[T] {
	return mergeFunc[T]{equal: equal, merge: merge}
}
