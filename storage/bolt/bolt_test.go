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

package bolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Comcast/strata/storage"

	"github.com/google/go-cmp/cmp"
)

func TestBasics(t *testing.T) {
	var (
		filename = filepath.Join(t.TempDir(), "storage.db")
		hid      = "simpsons"
	)

	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			return
		}
		if err := os.Remove(filename); err != nil {
			t.Fatal(err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			t.Fatal(err)
		}
	}()

	if err := s.MakeHost(ctx, hid); err != nil {
		t.Fatal(err)
	}

	check := func(want map[string]interface{}) {
		t.Helper()
		got, err := s.GetStates(ctx, hid)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, storage.AsMap(got)); diff != "" {
			t.Fatal(diff)
		}
	}

	err = s.WriteStates(ctx, hid, storage.AsStateValues(map[string]interface{}{
		"homer": "donuts",
		"count": 3.0,
	}))
	if err != nil {
		t.Fatal(err)
	}
	check(map[string]interface{}{"homer": "donuts", "count": 3.0})

	err = s.WriteStates(ctx, hid, []*storage.StateValue{
		{Name: "homer", Value: "beer"},
		{Name: "count", Deleted: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	check(map[string]interface{}{"homer": "beer"})

	if err := s.RemHost(ctx, hid); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetStates(ctx, hid)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %v", got)
	}
}

func BenchmarkBolt(b *testing.B) {
	filename := filepath.Join(b.TempDir(), "storage.db")
	s, err := NewStorage(filename)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		b.Fatal(err)
	}
	defer s.Close(ctx)

	svs := storage.AsStateValues(map[string]interface{}{"a": "tacos", "b": "queso"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%2 == 0 {
			err = s.WriteStates(ctx, "h", svs)
		} else {
			_, err = s.GetStates(ctx, "h")
		}
		if err != nil {
			b.Fatal(err)
		}
	}
}
