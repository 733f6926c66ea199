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

package goja

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCachingLibraryProvider(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprintf(w, "var x = 1;")
	}))
	defer srv.Close()

	var local int32
	provider := func(ctx context.Context, i *Interpreter, name string) (string, error) {
		if name == "file://lib.js" {
			atomic.AddInt32(&local, 1)
			return "var y = 2;", nil
		}
		return DefaultLibraryProvider(ctx, i, name)
	}

	p, err := MakeCachingLibraryProvider(4, provider)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	i := NewInterpreter()
	for n := 0; n < 3; n++ {
		src, err := p(ctx, i, srv.URL+"/lib.js")
		if err != nil {
			t.Fatal(err)
		}
		if src != "var x = 1;" {
			t.Fatal(src)
		}
		if _, err = p(ctx, i, "file://lib.js"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("%d fetches", n)
	}
	if n := atomic.LoadInt32(&local); n != 3 {
		t.Fatalf("%d reads", n)
	}

	if _, err = MakeCachingLibraryProvider(0, provider); err == nil {
		t.Fatal("size 0 should fail")
	}
}
