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

// Package snapshot is a multi-version store of observable state.
//
// Every State keeps a short chain of records, each tagged with the id
// of the snapshot that wrote it.  A Snapshot reads the newest record
// whose id it can see: not newer than its own id and not in its
// invalid set.  Writes in a MutableSnapshot stay private until Apply,
// which either commits all of them or, when another snapshot
// committed a conflicting value first and the State's Policy can't
// merge the two, none of them.
//
// The global snapshot (Manager.Global) is the ambient place for
// writes that don't need isolation.  Its writes are announced to
// apply observers when SendApplyNotifications is called or when any
// snapshot is taken or applied.
//
// Snapshot ids are ordered, so the Manager can compute the lowest id
// any open snapshot may still read and reuse records below it.  That
// keeps chains short no matter how many snapshots are taken.
package snapshot
