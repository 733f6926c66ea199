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
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"

	"gopkg.in/yaml.v2"
)

// StateConf declares a named host state.
type StateConf struct {
	Name string `json:"name" yaml:"name"`

	// Policy is "structural" (the default), "lww", "never", or
	// "sum".
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`

	Initial interface{} `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// StorageConf selects where committed state values are kept.
type StorageConf struct {
	// Kind is "none" (the default), "bolt", or "json".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ScheduleConf sends an event whenever its cron expression fires.
// The event is {"op":Op,"state":State,"value":Value,"by":By}.
type ScheduleConf struct {
	Name  string      `json:"name" yaml:"name"`
	Cron  string      `json:"cron" yaml:"cron"`
	Op    string      `json:"op,omitempty" yaml:"op,omitempty"`
	State string      `json:"state" yaml:"state"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	By    float64     `json:"by,omitempty" yaml:"by,omitempty"`
}

// Event renders the schedule's event.
func (s *ScheduleConf) Event() map[string]interface{} {
	msg := map[string]interface{}{
		"state": s.State,
	}
	if s.Op != "" {
		msg["op"] = s.Op
	}
	if s.Value != nil {
		msg["value"] = s.Value
	}
	if s.By != 0 {
		msg["by"] = s.By
	}
	return msg
}

// HostConf provides the basic Host parameters.
type HostConf struct {
	Id string `json:"id" yaml:"id"`

	// FrameInterval is the time between frames.  Zero means
	// recompose as soon as anything changes.
	FrameInterval time.Duration `json:"frame_interval,omitempty" yaml:"frame_interval,omitempty"`

	States []*StateConf `json:"states,omitempty" yaml:"states,omitempty"`

	// Program is the filename of the program document.
	Program string `json:"program,omitempty" yaml:"program,omitempty"`

	// Source is an inline program, used when Program is empty.
	Source *core.ProgramSource `json:"source,omitempty" yaml:"source,omitempty"`

	// Watch reloads Program when the file changes.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`

	Storage StorageConf `json:"storage,omitempty" yaml:"storage,omitempty"`

	Schedules []*ScheduleConf `json:"schedules,omitempty" yaml:"schedules,omitempty"`

	// HTTP is the listen address for metrics, debug, and
	// websocket endpoints.  Empty disables the server.
	HTTP string `json:"http,omitempty" yaml:"http,omitempty"`

	// MaxConns limits concurrent HTTP connections.
	MaxConns int `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`

	// HaltOnEOF stops the host when input is exhausted.
	HaltOnEOF bool `json:"halt_on_eof,omitempty" yaml:"halt_on_eof,omitempty"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// DefaultMaxConns is used when HostConf.MaxConns is zero.
var DefaultMaxConns = 64

// ConfError reports a bad HostConf.
type ConfError struct {
	Field  string
	Reason string
}

func (e *ConfError) Error() string {
	return "bad conf " + e.Field + ": " + e.Reason
}

// ParseHostConf parses a YAML (or JSON) host configuration.
func ParseHostConf(bs []byte) (*HostConf, error) {
	var conf HostConf
	if err := yaml.Unmarshal(bs, &conf); err != nil {
		return nil, err
	}
	conf.normalize()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// LoadHostConf reads and parses a host configuration file.
func LoadHostConf(filename string) (*HostConf, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseHostConf(bs)
}

// normalize converts the map[interface{}]interface{} values that
// yaml.v2 produces into JSON-style values.
func (c *HostConf) normalize() {
	for _, s := range c.States {
		s.Initial = jsonish(s.Initial)
	}
	for _, s := range c.Schedules {
		s.Value = jsonish(s.Value)
	}
	if c.Source != nil {
		c.Source.Source = jsonish(c.Source.Source)
	}
}

func jsonish(x interface{}) interface{} {
	switch vv := x.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			m[fmt.Sprintf("%v", k)] = jsonish(v)
		}
		return m
	case map[string]interface{}:
		for k, v := range vv {
			vv[k] = jsonish(v)
		}
		return vv
	case []interface{}:
		for i, v := range vv {
			vv[i] = jsonish(v)
		}
		return vv
	case int:
		return float64(vv)
	case int64:
		return float64(vv)
	case uint64:
		return float64(vv)
	default:
		return x
	}
}

// Validate checks names, policies, storage, and schedules.
func (c *HostConf) Validate() error {
	if c.Id == "" {
		c.Id = "host"
	}
	if c.FrameInterval < 0 {
		return &ConfError{Field: "frame_interval", Reason: "negative"}
	}
	seen := make(map[string]bool, len(c.States))
	for _, s := range c.States {
		if s.Name == "" {
			return &ConfError{Field: "states", Reason: "state without a name"}
		}
		if seen[s.Name] {
			return &ConfError{Field: "states", Reason: "duplicate state " + s.Name}
		}
		seen[s.Name] = true
		if _, err := PolicyNamed(s.Policy); err != nil {
			return err
		}
	}
	switch c.Storage.Kind {
	case "", "none":
	case "bolt", "json":
		if c.Storage.Path == "" {
			return &ConfError{Field: "storage", Reason: c.Storage.Kind + " needs a path"}
		}
	default:
		return &ConfError{Field: "storage", Reason: "unknown kind " + c.Storage.Kind}
	}
	for _, s := range c.Schedules {
		if s.State == "" {
			return &ConfError{Field: "schedules", Reason: "schedule " + s.Name + " has no state"}
		}
	}
	if c.Watch && c.Program == "" {
		return &ConfError{Field: "watch", Reason: "nothing to watch without a program file"}
	}
	return nil
}

// PolicyNamed returns the merge policy with the given name.
func PolicyNamed(name string) (snapshot.Policy[interface{}], error) {
	switch name {
	case "", "structural":
		return snapshot.StructuralEquality[interface{}](), nil
	case "lww", "last-write-wins":
		return snapshot.LastWriteWins[interface{}](), nil
	case "never":
		return snapshot.NeverEqual[interface{}](), nil
	case "sum", "summing":
		return summing, nil
	}
	return nil, &ConfError{Field: "policy", Reason: "unknown policy " + name}
}

// summing adds the deltas of concurrent numeric writes.  Non-numbers
// don't merge.
var summing = snapshot.MergeFunc[interface{}](
	func(a, b interface{}) bool {
		return reflect.DeepEqual(a, b)
	},
	func(previous, current, applied interface{}) (interface{}, bool) {
		p, ok := asFloat(previous)
		if !ok {
			return nil, false
		}
		c, ok := asFloat(current)
		if !ok {
			return nil, false
		}
		a, ok := asFloat(applied)
		if !ok {
			return nil, false
		}
		return c + (a - p), true
	})

func asFloat(x interface{}) (float64, bool) {
	switch vv := x.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case nil:
		return 0, true
	}
	return 0, false
}
