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
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Comcast/strata/tree"

	"github.com/google/go-cmp/cmp"
)

func TestStdio(t *testing.T) {
	var out bytes.Buffer
	s := NewStdio(false)
	s.In = strings.NewReader("# comment\n\n{bad\n" + `{"state":"x","value":1}` + "\n")
	s.Out = &out
	s.Tags = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, results, done, err := s.IO(ctx)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case x := <-in:
		want := map[string]interface{}{"state": "x", "value": 1.0}
		if diff := cmp.Diff(want, x); diff != "" {
			t.Fatal(diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no input")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no EOF")
	}
	<-s.InputEOF

	results <- &Result{
		Changes: []tree.Change{
			{Op: "set", ID: "n1", Attr: "text", Value: "hi"},
		},
		Error: "oops",
	}
	// The nil stops the writer after it has written the Result.
	results <- nil

	if err = s.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("%q", lines)
	}
	if !strings.HasPrefix(lines[0], `error "bad input: `) {
		t.Fatal(lines[0])
	}
	if lines[1] != `change {"op":"set","id":"n1","attr":"text","value":"hi"}` {
		t.Fatal(lines[1])
	}
	if lines[2] != `error {"error":"oops"}` {
		t.Fatal(lines[2])
	}
}

func TestStdioQuit(t *testing.T) {
	s := NewStdio(false)
	s.In = strings.NewReader("quit\n" + `{"state":"x"}` + "\n")
	s.Out = &bytes.Buffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, _, done, err := s.IO(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case x := <-in:
		t.Fatal(x)
	case <-time.After(2 * time.Second):
		t.Fatal("didn't quit")
	}
	cancel()
	if err = s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestShellExpand(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("no bash")
	}
	ctx := context.Background()
	got, err := ShellExpand(ctx, `{"state":"n","value":<<echo 40>>}`)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"state":"n","value":40}`; got != want {
		t.Fatalf("got %s", got)
	}

	if got, err = ShellExpand(ctx, `{"plain":true}`); err != nil || got != `{"plain":true}` {
		t.Fatalf("got %s %v", got, err)
	}

	if _, err = ShellExpand(ctx, `<<echo nope >&2; exit 3>>`); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("got %v", err)
	}
}
