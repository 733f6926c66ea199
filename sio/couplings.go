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

	"github.com/Comcast/strata/tree"
)

// Result is the visible output of one recomposition pass.
type Result struct {
	// Host is the id of the host that made the changes.
	Host string `json:"host,omitempty"`

	// Changes lists the edits applied to the host's tree, in
	// order.
	Changes []tree.Change `json:"changes,omitempty"`

	// Error is the pass's error, if any.  A failed pass makes
	// no changes.
	Error string `json:"error,omitempty"`
}

// Couplings provide channels for input events and result output.
//
// For example, an implementation could couple a host to an MQTT
// broker, which sends events and receives change lists.
type Couplings interface {
	// Start initializes the Couplings.
	Start(context.Context) error

	// IO returns the input and result channels.  The done
	// channel is closed when input is exhausted.
	IO(context.Context) (in chan interface{}, out chan *Result, done chan bool, err error)

	// Stop shuts down the Couplings.
	Stop(context.Context) error
}

// Chans is a Couplings made of plain channels.  Tests and embedding
// programs use it to drive a Host directly.
type Chans struct {
	In   chan interface{}
	Out  chan *Result
	Done chan bool
}

// NewChans makes a Chans with unbuffered channels.
func NewChans() *Chans {
	return &Chans{
		In:   make(chan interface{}),
		Out:  make(chan *Result),
		Done: make(chan bool),
	}
}

func (c *Chans) Start(ctx context.Context) error {
	return nil
}

func (c *Chans) IO(ctx context.Context) (chan interface{}, chan *Result, chan bool, error) {
	return c.In, c.Out, c.Done, nil
}

func (c *Chans) Stop(ctx context.Context) error {
	return nil
}
