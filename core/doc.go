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

// Package core is the composition runtime.
//
// Composable code is a func(*Composer).  It describes a tree by
// calling StartGroup/EndGroup, StartNode/EndNode, and their helpers
// Key, Node, and Call.  The Composer records that structure in a
// slots.Table.  The first pass inserts everything.  Later passes walk
// the recorded table and compare: groups are matched by key, moved
// when their keys reorder, and removed when they are no longer
// called.  Every structural difference becomes an Op in a ChangeList,
// which an Applier turns into edits of the real tree (see package
// tree for one).
//
// A restart group (StartRestartGroup, or Call) owns a Scope.  While
// the group's body runs, every State read in the pass's snapshot is
// recorded against the Scope.  When a later apply changes one of
// those States, the Scope is invalidated, and the next pass re-runs
// just that group from its recorded position.  A Call whose arguments
// haven't changed and whose Scope is valid is skipped entirely.
//
// A pass is all or nothing.  It composes into a private copy of the
// table, inside a mutable snapshot, recording changes in a buffer.
// Only when the snapshot applies cleanly are the table, the new
// dependencies, and the changes committed.  Otherwise everything is
// dropped and the invalidated scopes wait for the next pass.
//
// A Recomposer drives any number of Compositions from a FrameClock.
package core
