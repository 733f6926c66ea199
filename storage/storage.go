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

// Package storage persists the named states of a host so they
// survive restarts.
package storage

import (
	"context"
	"sort"
)

// StateValue is the committed value of one named state.
type StateValue struct {
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value"`

	// Deleted asks WriteStates to remove the state.
	Deleted bool `json:"-" yaml:"-"`
}

// Storage is a persistence interface for hosts.  A host's states are
// kept under its id.
type Storage interface {
	Open(ctx context.Context) error

	Close(ctx context.Context) error

	MakeHost(ctx context.Context, hid string) error

	RemHost(ctx context.Context, hid string) error

	// GetStates returns every stored state for the host.
	GetStates(ctx context.Context, hid string) ([]*StateValue, error)

	WriteStates(ctx context.Context, hid string, svs []*StateValue) error
}

// AsStateValues converts a map of values, sorted by name.
func AsStateValues(vals map[string]interface{}) []*StateValue {
	acc := make([]*StateValue, 0, len(vals))
	for name, v := range vals {
		acc = append(acc, &StateValue{
			Name:  name,
			Value: v,
		})
	}
	sort.Slice(acc, func(i, j int) bool {
		return acc[i].Name < acc[j].Name
	})
	return acc
}

// AsMap is the inverse of AsStateValues.  Deleted values are skipped.
func AsMap(svs []*StateValue) map[string]interface{} {
	acc := make(map[string]interface{}, len(svs))
	for _, sv := range svs {
		if !sv.Deleted {
			acc[sv.Name] = sv.Value
		}
	}
	return acc
}
