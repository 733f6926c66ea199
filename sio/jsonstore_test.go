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
	"path/filepath"
	"testing"

	"github.com/Comcast/strata/storage"

	"github.com/google/go-cmp/cmp"
)

func TestJSONStore(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "states.json")

	s := NewJSONStore(filename)
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.MakeHost(ctx, "h"); err != nil {
		t.Fatal(err)
	}
	svs, err := s.GetStates(ctx, "h")
	if err != nil {
		t.Fatal(err)
	}
	if svs != nil {
		t.Fatal(svs)
	}

	err = s.WriteStates(ctx, "h", []*storage.StateValue{
		{Name: "a", Value: 1.0},
		{Name: "b", Value: "two"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.WriteStates(ctx, "h", []*storage.StateValue{
		{Name: "a", Deleted: true},
		{Name: "c", Value: []interface{}{"x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Start over from the file.
	s = NewJSONStore(filename)
	if err = s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b", "c"}, s.Names("h")); diff != "" {
		t.Fatal(diff)
	}
	svs, err = s.GetStates(ctx, "h")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"b": "two",
		"c": []interface{}{"x"},
	}
	if diff := cmp.Diff(want, storage.AsMap(svs)); diff != "" {
		t.Fatal(diff)
	}

	if err = s.RemHost(ctx, "h"); err != nil {
		t.Fatal(err)
	}
	if svs, err = s.GetStates(ctx, "h"); err != nil || svs != nil {
		t.Fatal(svs, err)
	}
}
