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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"
	"github.com/Comcast/strata/storage"
	"github.com/Comcast/strata/storage/bolt"
	"github.com/Comcast/strata/tree"
	"github.com/Comcast/strata/util"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrHalted is returned internally when input is exhausted
	// and HostConf.HaltOnEOF is set.  Run returns nil for it.
	ErrHalted = errors.New("halted")

	// FlushPasses bounds the passes Flush runs while waiting for
	// the composition to settle.
	FlushPasses = 8
)

// UnknownStateError reports a reference to a state the host doesn't
// have.
type UnknownStateError struct {
	Name string
}

func (e *UnknownStateError) Error() string {
	return "unknown state '" + e.Name + "'"
}

// BadMessageError reports an input event the host can't process.
type BadMessageError struct {
	Msg    interface{}
	Reason string
}

func (e *BadMessageError) Error() string {
	return "bad message " + Abbrev(e.Msg) + ": " + e.Reason
}

// Host runs one composition over a set of named states.  Input
// events from its Couplings write states, and each recomposition
// pass's tree changes go back out as a Result.
type Host struct {
	Conf   *HostConf
	Logger hclog.Logger

	// Storage keeps committed state values.
	Storage storage.Storage

	// Interpreters compile programs.  Defaults to
	// interpreters.Standard().
	Interpreters map[string]core.Interpreter

	m      *snapshot.Manager
	rec    *core.Recomposer
	comp   *core.Composition
	tree   *tree.Tree
	clock  core.FrameClock
	ticker *Ticker
	timers *Timers

	schedules []*Schedule

	in   chan interface{}
	out  chan *Result
	done chan bool

	quit     chan struct{}
	quitOnce sync.Once

	// life outlives requests.  Timers use it.
	life       context.Context
	cancelLife context.CancelFunc

	statesMu sync.RWMutex
	states   map[string]*snapshot.State[interface{}]
	names    map[snapshot.Object]string

	changesMu sync.Mutex
	changes   []tree.Change

	dirtyMu sync.Mutex
	dirty   map[string]bool
	persist chan struct{}

	programMu sync.Mutex
	program   *core.ProgramSource

	sessions *sessions

	cancels []func()
}

// NewHost makes a host with the given configuration and couplings.
// A nil store is made from conf.Storage.
//
// The coupling's IO() method is called to obtain the host's in/out
// channels.
func NewHost(ctx context.Context, conf *HostConf, couplings Couplings, store storage.Storage) (*Host, error) {
	if conf == nil {
		conf = &HostConf{}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	in, out, done, err := couplings.IO(ctx)
	if err != nil {
		return nil, err
	}

	logger := util.NewLogger(conf.Id, conf.Verbose)

	h := &Host{
		Conf:    conf,
		Logger:  logger,
		in:      in,
		out:     out,
		done:    done,
		quit:    make(chan struct{}),
		states:  make(map[string]*snapshot.State[interface{}], len(conf.States)),
		names:   make(map[snapshot.Object]string, len(conf.States)),
		dirty:   make(map[string]bool),
		persist: make(chan struct{}, 1),
	}
	h.life, h.cancelLife = context.WithCancel(context.Background())
	h.sessions = newSessions(h)

	if store == nil {
		if store, err = h.makeStorage(); err != nil {
			return nil, err
		}
	}
	h.Storage = store

	if err := h.init(ctx); err != nil {
		h.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Host) makeStorage() (storage.Storage, error) {
	switch h.Conf.Storage.Kind {
	case "bolt":
		s, err := bolt.NewStorage(h.Conf.Storage.Path)
		if err != nil {
			return nil, err
		}
		s.Logger = h.Logger.Named("bolt")
		return s, nil
	case "json":
		return NewJSONStore(h.Conf.Storage.Path), nil
	}
	return storage.NewNoopStorage(), nil
}

// init opens storage, creates the states, and loads the program.
func (h *Host) init(ctx context.Context) error {
	h.m = snapshot.NewManager()
	h.m.Logger = h.Logger.Named("snapshot")

	h.rec = core.NewRecomposer(h.m)
	h.rec.Logger = h.Logger.Named("recomposer")
	h.rec.AfterPass = h.afterPass

	h.tree = tree.NewTree("root")
	applier := tree.NewApplier(h.tree)
	applier.OnChange = h.changed
	h.comp = h.rec.NewComposition(applier, h.tree.Root)

	if d := h.Conf.FrameInterval; d > 0 {
		clock := &core.BroadcastFrameClock{}
		h.clock = clock
		h.ticker = &Ticker{
			Interval: d,
			Clock:    clock,
		}
	} else {
		h.clock = core.ImmediateClock{}
	}

	h.timers = NewTimers(func(ctx context.Context, te *TimerEntry) {
		if err := h.ProcessMsg(ctx, te.Msg); err != nil {
			h.reportf("timer %s: %s", te.Id, err)
		}
	})
	h.timers.Logger = h.Logger.Named("timers")

	for _, sc := range h.Conf.Schedules {
		s, err := NewSchedule(sc)
		if err != nil {
			return err
		}
		h.schedules = append(h.schedules, s)
	}

	if err := h.Storage.Open(ctx); err != nil {
		return err
	}
	if err := h.Storage.MakeHost(ctx, h.Conf.Id); err != nil {
		return err
	}
	svs, err := h.Storage.GetStates(ctx, h.Conf.Id)
	if err != nil {
		return err
	}
	stored := storage.AsMap(svs)

	for _, sc := range h.Conf.States {
		initial := sc.Initial
		if v, have := stored[sc.Name]; have {
			initial = v
			delete(stored, sc.Name)
		}
		if _, err := h.AddState(sc.Name, sc.Policy, initial); err != nil {
			return err
		}
	}
	// States that events created in an earlier run.
	for _, sv := range storage.AsStateValues(stored) {
		if _, err := h.AddState(sv.Name, "", sv.Value); err != nil {
			return err
		}
	}

	h.cancels = append(h.cancels, h.m.RegisterApplyObserver(h.applied))

	var src *core.ProgramSource
	switch {
	case h.Conf.Program != "":
		if src, err = LoadProgram(h.Conf.Program); err != nil {
			return err
		}
	case h.Conf.Source != nil:
		src = h.Conf.Source
	}
	if src != nil {
		if err := h.SetProgram(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// Manager returns the host's snapshot manager.
func (h *Host) Manager() *snapshot.Manager {
	return h.m
}

// Composition returns the host's composition.
func (h *Host) Composition() *core.Composition {
	return h.comp
}

// Tree returns the composed tree.
func (h *Host) Tree() *tree.Tree {
	return h.tree
}

// Timers returns the host's timers.
func (h *Host) Timers() *Timers {
	return h.timers
}

// Program returns the current program source, if any.
func (h *Host) Program() *core.ProgramSource {
	h.programMu.Lock()
	defer h.programMu.Unlock()
	return h.program
}

// SetProgram compiles src and makes it the composition's content.
// The whole tree is recomposed on the next frame.
func (h *Host) SetProgram(ctx context.Context, src *core.ProgramSource) error {
	p, err := CompileProgram(ctx, src, h.Interpreters)
	if err != nil {
		return err
	}
	content, err := p.Content(&core.Env{
		States: h,
		NewNode: func(typ string) interface{} {
			return tree.New(typ)
		},
		Logger: h.Logger.Named("program"),
	})
	if err != nil {
		return err
	}

	h.programMu.Lock()
	h.program = src
	h.programMu.Unlock()

	h.Logger.Info("program loaded", "program", src.Name)
	h.comp.SetContent(content)
	return nil
}

// Reload reads HostConf.Program again.
func (h *Host) Reload(ctx context.Context) error {
	if h.Conf.Program == "" {
		return errors.New("no program file to reload")
	}
	src, err := LoadProgram(h.Conf.Program)
	if err != nil {
		return err
	}
	return h.SetProgram(ctx, src)
}

// State implements core.StateProvider.
func (h *Host) State(name string) (*snapshot.State[interface{}], error) {
	h.statesMu.RLock()
	defer h.statesMu.RUnlock()
	st, have := h.states[name]
	if !have {
		return nil, &UnknownStateError{Name: name}
	}
	return st, nil
}

// StateNames returns the names of the host's states in order.
func (h *Host) StateNames() []string {
	h.statesMu.RLock()
	acc := make([]string, 0, len(h.states))
	for name := range h.states {
		acc = append(acc, name)
	}
	h.statesMu.RUnlock()
	sort.Strings(acc)
	return acc
}

// AddState creates a state in the global snapshot.  An existing
// state with the name is returned as is.
func (h *Host) AddState(name, policy string, initial interface{}) (*snapshot.State[interface{}], error) {
	p, err := PolicyNamed(policy)
	if err != nil {
		return nil, err
	}

	h.statesMu.Lock()
	if st, have := h.states[name]; have {
		h.statesMu.Unlock()
		return st, nil
	}
	st, err := snapshot.NewState[interface{}](h.m.Global(), name, initial, p)
	if err != nil {
		h.statesMu.Unlock()
		return nil, err
	}
	h.states[name] = st
	h.names[st] = name
	h.statesMu.Unlock()

	h.Logger.Debug("state added", "state", name, "policy", policy)

	// A pass that failed on this state's absence can run again.
	h.rec.Wake()
	return st, nil
}

// Values reads every state from a fresh snapshot.
func (h *Host) Values() (map[string]interface{}, error) {
	s := h.m.TakeSnapshot(nil)
	defer s.Dispose()

	h.statesMu.RLock()
	defer h.statesMu.RUnlock()
	acc := make(map[string]interface{}, len(h.states))
	for name, st := range h.states {
		v, err := st.Read(s)
		if err != nil {
			return nil, err
		}
		acc[name] = v
	}
	return acc, nil
}

// ProcessMsg processes the given input event.
//
// Supported events:
//
//	{"state":S,"value":V}                set S to V
//	{"op":"inc","state":S,"by":N}        add N (default 1) to S
//	{"op":"after","id":I,"in":D,"msg":M} process M after duration D
//	{"op":"cancel","id":I}               cancel timer I
//	{"op":"reload"}                      reload the program file
func (h *Host) ProcessMsg(ctx context.Context, msg interface{}) error {
	h.Logger.Debug("process", "msg", Abbrev(msg))

	m, is := msg.(map[string]interface{})
	if !is {
		return &BadMessageError{Msg: msg, Reason: "not an object"}
	}
	op, _ := m["op"].(string)
	if op == "" {
		op = "set"
	}

	switch op {
	case "set":
		st, err := h.stateFor(m, "")
		if err != nil {
			return err
		}
		v := m["value"]
		return h.m.Atomically(ctx, func(s *snapshot.MutableSnapshot) error {
			return st.Write(s, v)
		})

	case "inc":
		by := 1.0
		if x, have := m["by"]; have {
			f, ok := asFloat(x)
			if !ok {
				return &BadMessageError{Msg: msg, Reason: "bad by"}
			}
			by = f
		}
		st, err := h.stateFor(m, "sum")
		if err != nil {
			return err
		}
		return h.m.Atomically(ctx, func(s *snapshot.MutableSnapshot) error {
			v, err := st.Read(s)
			if err != nil {
				return err
			}
			f, ok := asFloat(v)
			if !ok {
				return &BadMessageError{Msg: msg, Reason: fmt.Sprintf("state %s isn't a number (%T)", st.Name(), v)}
			}
			return st.Write(s, f+by)
		})

	case "after":
		id, _ := m["id"].(string)
		if id == "" {
			return &BadMessageError{Msg: msg, Reason: "no id"}
		}
		in, _ := m["in"].(string)
		d, err := time.ParseDuration(in)
		if err != nil {
			return &BadMessageError{Msg: msg, Reason: err.Error()}
		}
		h.timers.Add(h.life, id, m["msg"], d)
		return nil

	case "cancel":
		id, _ := m["id"].(string)
		return h.timers.Cancel(ctx, id)

	case "reload":
		return h.Reload(ctx)
	}

	return &BadMessageError{Msg: msg, Reason: "unknown op " + op}
}

// stateFor finds the event's state, creating it with the policy if
// it doesn't exist.
func (h *Host) stateFor(m map[string]interface{}, policy string) (*snapshot.State[interface{}], error) {
	name, _ := m["state"].(string)
	if name == "" {
		return nil, &BadMessageError{Msg: m, Reason: "no state"}
	}
	if st, err := h.State(name); err == nil {
		return st, nil
	}
	var initial interface{}
	if policy == "sum" {
		initial = 0.0
	}
	return h.AddState(name, policy, initial)
}

// changed collects the applier's changes for the current pass.
func (h *Host) changed(c tree.Change) {
	h.changesMu.Lock()
	h.changes = append(h.changes, c)
	h.changesMu.Unlock()
}

func (h *Host) takeChanges() []tree.Change {
	h.changesMu.Lock()
	defer h.changesMu.Unlock()
	cs := h.changes
	h.changes = nil
	return cs
}

func (h *Host) afterPass(c *core.Composition, err error) {
	changes := h.takeChanges()
	if err == nil && len(changes) == 0 {
		return
	}
	r := &Result{
		Host:    h.Conf.Id,
		Changes: changes,
	}
	if err != nil {
		h.Logger.Warn("pass failed", "error", err)
		r.Error = err.Error()
	}
	h.emit(r)
}

// emit sends r to the couplings and to websocket sessions.
func (h *Host) emit(r *Result) {
	h.sessions.broadcast(r)
	select {
	case h.out <- r:
	case <-h.quit:
	}
}

// reportf logs an error and sends it out as a Result.
func (h *Host) reportf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	h.Logger.Error(msg)
	h.emit(&Result{
		Host:  h.Conf.Id,
		Error: msg,
	})
}

// applied marks host states for persistence.
func (h *Host) applied(objs []snapshot.Object, s snapshot.Snapshot) {
	h.statesMu.RLock()
	h.dirtyMu.Lock()
	n := 0
	for _, o := range objs {
		if name, have := h.names[o]; have {
			h.dirty[name] = true
			n++
		}
	}
	h.dirtyMu.Unlock()
	h.statesMu.RUnlock()

	if 0 < n {
		select {
		case h.persist <- struct{}{}:
		default:
		}
	}
}

// FlushStates writes the states changed since the last flush to
// Storage.
func (h *Host) FlushStates(ctx context.Context) error {
	h.dirtyMu.Lock()
	dirty := h.dirty
	h.dirty = make(map[string]bool)
	h.dirtyMu.Unlock()
	if len(dirty) == 0 {
		return nil
	}

	s := h.m.TakeSnapshot(nil)
	defer s.Dispose()

	svs := make([]*storage.StateValue, 0, len(dirty))
	for name := range dirty {
		st, err := h.State(name)
		if err != nil {
			return err
		}
		v, err := st.Read(s)
		if err != nil {
			return err
		}
		svs = append(svs, &storage.StateValue{
			Name:  name,
			Value: v,
		})
	}
	sort.Slice(svs, func(i, j int) bool {
		return svs[i].Name < svs[j].Name
	})
	return h.Storage.WriteStates(ctx, h.Conf.Id, svs)
}

func (h *Host) persister(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return h.FlushStates(context.Background())
		case <-h.persist:
			if err := h.FlushStates(ctx); err != nil {
				h.Logger.Error("persist failed", "error", err)
			}
		}
	}
}

// Flush recomposes until nothing is pending, up to FlushPasses
// passes.
func (h *Host) Flush(ctx context.Context) error {
	var errs *multierror.Error
	for i := 0; i < FlushPasses; i++ {
		ran, err := h.rec.RecomposeAll(ctx)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if !ran {
			break
		}
	}
	return errs.ErrorOrNil()
}

// loop calls ProcessMsg on each message that arrives via the input
// coupling.  It halts when ctx is done, or when input is exhausted
// and Conf.HaltOnEOF is set.
func (h *Host) loop(ctx context.Context) error {
	h.Logger.Debug("loop starting")
	in, done := h.in, h.done
	for {
		select {
		case <-done:
			done = nil
			h.Logger.Debug("input done")
			if h.Conf.HaltOnEOF {
				if err := h.Flush(ctx); err != nil {
					h.Logger.Warn("flush failed", "error", err)
				}
				return ErrHalted
			}
		case <-ctx.Done():
			h.Logger.Debug("loop done")
			return nil
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if err := h.ProcessMsg(ctx, msg); err != nil {
				h.reportf("process %s: %s", Abbrev(msg), err)
			}
		}
	}
}

func (h *Host) stop() {
	h.quitOnce.Do(func() {
		close(h.quit)
	})
}

// Run starts the host's goroutines and waits for them.  It returns
// when ctx is done or input halts.
func (h *Host) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		h.stop()
		return nil
	})
	g.Go(func() error {
		return h.rec.Run(ctx, h.clock)
	})
	if h.ticker != nil {
		g.Go(func() error {
			return h.ticker.Run(ctx)
		})
	}
	g.Go(func() error {
		return h.persister(ctx)
	})
	for _, s := range h.schedules {
		s := s
		g.Go(func() error {
			return s.Run(ctx, h.Logger, h.ProcessMsg)
		})
	}
	if h.Conf.HTTP != "" {
		g.Go(func() error {
			return h.Serve(ctx, h.Conf.HTTP)
		})
	}
	if h.Conf.Watch {
		g.Go(func() error {
			return h.watch(ctx)
		})
	}
	g.Go(func() error {
		return h.loop(ctx)
	})

	err := g.Wait()
	if err == ErrHalted || errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close disposes the composition and closes storage.
func (h *Host) Close(ctx context.Context) error {
	h.stop()
	h.cancelLife()
	var errs *multierror.Error
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
	if h.rec != nil {
		if err := h.comp.Dispose(); err != nil && err != core.ErrDisposed {
			errs = multierror.Append(errs, err)
		}
		h.rec.Close()
	}
	if err := h.Storage.Close(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
