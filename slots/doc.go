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

// Package slots is the slot table: a flat, pre-order array of groups
// that records the structure of a composition.
//
// A group's subtree is the contiguous range of Size groups starting at
// the group itself, so containment is positional and a subtree can be
// skipped, removed, or moved as one block.  Each group also carries a
// vector of slots that hold remembered values and cached parameters.
//
// The table has one Writer at a time and any number of Readers.  A
// Writer edits a private copy, kept in a gap buffer so that edits at
// the cursor are cheap, and Close publishes the copy atomically.
// Readers always see the last published table.
package slots
