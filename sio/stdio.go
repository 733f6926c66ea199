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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Stdio is a fairly simple Couplings that uses stdin for input and
// stdout for output.  Input is one JSON event per line.  Output is
// one JSON change per line.
type Stdio struct {
	// In is coupled to host input.
	In io.Reader

	// Out is coupled to host output.
	Out io.Writer

	// ShellExpand enables input to include inline shell commands
	// delimited by '<<' and '>>'.  See ShellExpand.
	ShellExpand bool

	// Timestamps prepends a timestamp to each output line.
	Timestamps bool

	// EchoInput writes input lines (prepended with "input") to
	// the output.
	EchoInput bool

	// Tags prefixes tags indicating type of output ("input",
	// "change", "error").
	Tags bool

	// PadTags adds some padding to tags.
	PadTags bool

	// Batches writes each Result on one line instead of one line
	// per change.
	Batches bool

	Logger hclog.Logger

	// InputEOF will be closed on EOF from stdin.
	InputEOF chan bool

	WG sync.WaitGroup

	mu sync.Mutex
}

// NewStdio creates a new Stdio.
//
// In and Out are initialized with os.Stdin and os.Stdout
// respectively.
func NewStdio(shellExpand bool) *Stdio {
	return &Stdio{
		In:          os.Stdin,
		Out:         os.Stdout,
		ShellExpand: shellExpand,
		Logger:      hclog.NewNullLogger(),
		InputEOF:    make(chan bool),
	}
}

// Start does nothing.
func (s *Stdio) Start(ctx context.Context) error {
	return nil
}

// Stop waits until IO is complete or was terminated via its context.
func (s *Stdio) Stop(ctx context.Context) error {
	s.WG.Wait()
	return nil
}

func (s *Stdio) printf(tag, format string, args ...interface{}) {
	if s.PadTags {
		tag = fmt.Sprintf("% 10s", tag)
	}
	if s.Tags {
		format = tag + " " + format
	}
	if s.Timestamps {
		ts := fmt.Sprintf("%-31s", time.Now().UTC().Format(time.RFC3339Nano))
		format = ts + " " + format
	}

	s.mu.Lock()
	fmt.Fprintf(s.Out, format, args...)
	s.mu.Unlock()
}

// IO returns channels for reading from stdin and writing to stdout.
func (s *Stdio) IO(ctx context.Context) (chan interface{}, chan *Result, chan bool, error) {
	in := make(chan interface{})
	done := make(chan bool)

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		defer s.Logger.Debug("stdio input done")
		stdin := bufio.NewReader(s.In)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line, err := stdin.ReadString('\n')
			if err != nil && err != io.EOF {
				s.Logger.Error("stdin error", "error", err)
				return
			}
			eof := err == io.EOF
			if strings.TrimSpace(line) == "quit" {
				eof, line = true, ""
			}
			if !eof || line != "" {
				if !s.handle(ctx, in, line) {
					return
				}
			}
			if eof {
				close(done)
				close(s.InputEOF)
				return
			}
		}
	}()

	out := make(chan *Result)

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		defer s.Logger.Debug("stdio output done")
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-out:
				if r == nil {
					return
				}
				s.write(r)
			}
		}
	}()

	return in, out, done, nil
}

// handle parses one input line and sends it.  It returns false if
// ctx is done.
func (s *Stdio) handle(ctx context.Context, in chan interface{}, line string) bool {
	if s.EchoInput {
		s.printf("input", "%s\n", strings.TrimRight(line, "\n"))
	}
	if strings.HasPrefix(line, "#") || len(strings.TrimSpace(line)) == 0 {
		return true
	}
	if s.ShellExpand {
		var err error
		if line, err = ShellExpand(ctx, line); err != nil {
			s.printf("error", "%s\n", JS(err.Error()))
			return true
		}
	}

	var msg interface{}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		s.printf("error", "%s\n", JS("bad input: "+err.Error()))
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case in <- msg:
		return true
	}
}

func (s *Stdio) write(r *Result) {
	if s.Batches {
		s.printf("result", "%s\n", JS(r))
		return
	}
	for _, c := range r.Changes {
		s.printf("change", "%s\n", JS(c))
	}
	if r.Error != "" {
		s.printf("error", "%s\n", JS(map[string]interface{}{
			"error": r.Error,
		}))
	}
}

var shellCmd = regexp.MustCompile(`<<(.*?)>>`)

// ShellExpand replaces each '<<cmd>>' in line with the output of
// 'bash -c cmd', minus its trailing newline, so an event can carry
// something like {"state":"now","value":<<date +%s>>}.  Commands get
// no stdin and are killed when ctx is done.
func ShellExpand(ctx context.Context, line string) (string, error) {
	literals := shellCmd.Split(line, -1)
	cmds := shellCmd.FindAllStringSubmatch(line, -1)
	var acc strings.Builder
	acc.WriteString(literals[0])
	for i, m := range cmds {
		cmd := exec.CommandContext(ctx, "bash", "-c", m[1])
		cmd.Stdin = strings.NewReader("")
		var stderr strings.Builder
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("shell %q: %w: %s", m[1], err, strings.TrimSpace(stderr.String()))
		}
		acc.WriteString(strings.TrimRight(string(out), "\n"))
		acc.WriteString(literals[i+1])
	}
	return acc.String(), nil
}
