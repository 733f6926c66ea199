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
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/Comcast/strata/storage"
)

// JSONStore is a primitive storage.Storage that keeps every host's
// states as JSON in one file.  The whole file is rewritten on each
// write.
//
// Not glamorous or efficient.
type JSONStore struct {
	Filename string `json:"-"`

	sync.Mutex
	Hosts map[string]map[string]interface{} `json:"hosts"`
}

var _ storage.Storage = (*JSONStore)(nil)

func NewJSONStore(filename string) *JSONStore {
	return &JSONStore{
		Filename: filename,
		Hosts:    make(map[string]map[string]interface{}),
	}
}

// Open reads the file if it exists.
func (s *JSONStore) Open(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	js, err := os.ReadFile(s.Filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err = json.Unmarshal(js, s); err != nil {
		return err
	}
	if s.Hosts == nil {
		s.Hosts = make(map[string]map[string]interface{})
	}
	return nil
}

// Close writes the file.
func (s *JSONStore) Close(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	return s.write()
}

func (s *JSONStore) write() error {
	js, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Filename, js, 0644)
}

func (s *JSONStore) MakeHost(ctx context.Context, hid string) error {
	s.Lock()
	defer s.Unlock()
	if _, have := s.Hosts[hid]; !have {
		s.Hosts[hid] = make(map[string]interface{})
	}
	return nil
}

func (s *JSONStore) RemHost(ctx context.Context, hid string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.Hosts, hid)
	return s.write()
}

func (s *JSONStore) GetStates(ctx context.Context, hid string) ([]*storage.StateValue, error) {
	s.Lock()
	defer s.Unlock()
	vals, have := s.Hosts[hid]
	if !have || len(vals) == 0 {
		return nil, nil
	}
	return storage.AsStateValues(vals), nil
}

func (s *JSONStore) WriteStates(ctx context.Context, hid string, svs []*storage.StateValue) error {
	s.Lock()
	defer s.Unlock()
	vals, have := s.Hosts[hid]
	if !have {
		vals = make(map[string]interface{}, len(svs))
		s.Hosts[hid] = vals
	}
	for _, sv := range svs {
		if sv.Deleted {
			delete(vals, sv.Name)
		} else {
			vals[sv.Name] = sv.Value
		}
	}
	return s.write()
}

// Names returns the stored state names for the host.
func (s *JSONStore) Names(hid string) []string {
	s.Lock()
	defer s.Unlock()
	acc := make([]string, 0, len(s.Hosts[hid]))
	for name := range s.Hosts[hid] {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}
