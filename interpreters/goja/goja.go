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

// Package goja runs composition programs written in ECMAScript using
// Goja.
//
// A program's source is the body of a function that the host calls
// for every pass of the root group.  The body builds the tree with
// the functions at _ described at Content.
package goja

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Comcast/strata/core"
	"github.com/Comcast/strata/snapshot"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is the cause of a pass whose context ended while
	// the program was running.
	Interrupted = errors.New(InterruptedMessage)
)

func init() {
	i := NewInterpreter()
	core.DefaultInterpreters["goja"] = i
	core.DefaultInterpreters["ecmascript"] = i
}

// Interpreter implements core.Interpreter using Goja, which is a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type Interpreter struct {

	// Testing exposes sleep(ms) to programs.
	Testing bool

	// Inline, when true, replaces top-level require("name")
	// statements with the named library's source.  See
	// InlineRequires.
	Inline bool

	// LibraryProvider resolves library names given by "requires"
	// or by require().  DefaultLibraryProvider is used when nil.
	LibraryProvider func(ctx context.Context, i *Interpreter, libraryName string) (string, error)
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// ProvideLibrary resolves the library name into a library.
func (i *Interpreter) ProvideLibrary(ctx context.Context, name string) (string, error) {
	if i.LibraryProvider != nil {
		return i.LibraryProvider(ctx, i, name)
	}
	return DefaultLibraryProvider(ctx, i, name)
}

var DefaultLibraryProvider = MakeFileLibraryProvider(".")

// MakeFileLibraryProvider makes a provider for names that are URLs
// with protocols "file", "http", and "https".  File names are
// relative to dir.
func MakeFileLibraryProvider(dir string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		parts := strings.SplitN(name, "://", 2)
		if 2 != len(parts) {
			return "", fmt.Errorf("bad link '%s'", name)
		}
		switch parts[0] {
		case "file":
			filename := filepath.Clean("/" + parts[1])
			bs, err := os.ReadFile(filepath.Join(dir, filename))
			if err != nil {
				return "", err
			}
			return string(bs), nil
		case "http", "https":
			req, err := http.NewRequestWithContext(ctx, "GET", name, nil)
			if err != nil {
				return "", err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("library fetch status %s %d",
					resp.Status, resp.StatusCode)
			}
			bs, err := io.ReadAll(resp.Body)
			if err != nil {
				return "", err
			}
			return string(bs), nil
		default:
			return "", fmt.Errorf("unknown protocol '%s'", parts[0])
		}
	}
}

// LibraryCacheSize bounds the remote libraries a caching provider
// keeps.
var LibraryCacheSize = 64

// MakeCachingLibraryProvider wraps p so that "http" and "https"
// libraries are fetched once.  Other names go to p every time, so
// edited files are seen on reload.
func MakeCachingLibraryProvider(size int, p func(context.Context, *Interpreter, string) (string, error)) (func(context.Context, *Interpreter, string) (string, error), error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		if !strings.HasPrefix(name, "http://") && !strings.HasPrefix(name, "https://") {
			return p(ctx, i, name)
		}
		if src, have := cache.Get(name); have {
			return src, nil
		}
		src, err := p(ctx, i, name)
		if err != nil {
			return "", err
		}
		cache.Add(name, src)
		return src, nil
	}, nil
}

func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

// parseSource looks for "code" and "requires" properties.
func parseSource(vv map[string]interface{}) (code string, libs []string, err error) {
	x := vv["code"]
	s, is := x.(string)
	if !is {
		err = errors.New("bad Goja program code")
		return
	}
	code = s

	switch vv := vv["requires"].(type) {
	case nil:
	case string:
		libs = []string{vv}
	case []string:
		libs = vv
	case []interface{}:
		libs = make([]string, 0, len(vv))
		for _, x := range vv {
			s, is := x.(string)
			if !is {
				err = errors.New("bad library")
				return
			}
			libs = append(libs, s)
		}
	default:
		err = fmt.Errorf("bad requires (%T)", vv)
	}
	return
}

// AsSource accepts either a string of code or a map with "code" and
// optional "requires".  Maps from gopkg.in/yaml.v2, which have
// interface{} keys, are accepted too.
func AsSource(src interface{}) (code string, libs []string, err error) {
	switch vv := src.(type) {
	case string:
		code = vv
		return
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			str, ok := k.(string)
			if !ok {
				err = fmt.Errorf("bad src key (%T)", k)
				return
			}
			m[str] = v
		}
		return parseSource(m)
	case map[string]interface{}:
		return parseSource(vv)
	default:
		err = fmt.Errorf("bad Goja source (%T)", src)
		return
	}
}

// Program is a compiled Goja program.
type Program struct {
	i    *Interpreter
	code string
	prog *goja.Program
}

// Compile prepends any required libraries to the code, which is
// wrapped as a function, and compiles the result.
//
// This method can block if the interpreter's library provider
// blocks.
func (i *Interpreter) Compile(ctx context.Context, src interface{}) (core.Program, error) {
	code, libs, err := AsSource(src)
	if err != nil {
		return nil, err
	}

	if i.Inline {
		provider := func(ctx context.Context, name string) (string, error) {
			return i.ProvideLibrary(ctx, name)
		}
		if code, err = InlineRequires(ctx, code, provider); err != nil {
			return nil, err
		}
	}

	var libsSrc string
	for _, lib := range libs {
		libSrc, err := i.ProvideLibrary(ctx, lib)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	code = libsSrc + "(function() {\n" + code + "\n});\n"

	p, err := goja.Compile("", code, true)
	if err != nil {
		return nil, errors.New(err.Error() + ": " + code)
	}
	return &Program{
		i:    i,
		code: code,
		prog: p,
	}, nil
}

// Code returns the source that was compiled.
func (p *Program) Code() string {
	return p.code
}

// run is one program instance bound to one composition.
type run struct {
	p   *Program
	env *core.Env
	rt  *goja.Runtime
	cm  *core.Composer
}

func (r *run) protest(x interface{}) {
	panic(r.rt.ToValue(x))
}

// with makes cm current while f runs.
func (r *run) with(cm *core.Composer, f func()) {
	prev := r.cm
	r.cm = cm
	defer func() {
		r.cm = prev
	}()
	f()
}

func (r *run) composer() *core.Composer {
	if r.cm == nil {
		r.protest("not composing")
	}
	return r.cm
}

// missing reports whether an argument was omitted, undefined, or
// null.
func missing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// block converts an optional JS function to composable code.
func (r *run) block(v goja.Value) core.Composable {
	if missing(v) {
		return nil
	}
	f, is := goja.AssertFunction(v)
	if !is {
		r.protest("not a function")
	}
	return func(cm *core.Composer) {
		r.with(cm, func() {
			if _, err := f(goja.Undefined()); err != nil {
				panic(err)
			}
		})
	}
}

// keyOf makes a comparable group key.
func keyOf(v goja.Value) interface{} {
	if missing(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case string, int64, float64, bool:
		return x
	}
	return v.String()
}

func (r *run) toString(v goja.Value) string {
	if missing(v) {
		r.protest("not a string")
	}
	s, is := v.Export().(string)
	if !is {
		r.protest("not a string")
	}
	return s
}

func (r *run) state(name goja.Value) *snapshot.State[interface{}] {
	if r.env.States == nil {
		r.protest("no states")
	}
	st, err := r.env.States.State(r.toString(name))
	if err != nil {
		r.protest(err.Error())
	}
	return st
}

// Content implements core.Program.
//
// The following properties are available from the runtime at _.
//
//	node(type, key, attrs, body): a node of the given type, and
//	  attributes.  key and body are optional.
//	group(key, body): a keyed group.
//	call(key, args, body): a group that runs body again only if
//	  args changed or a state it read changed.
//	each(list, key, body): body(item, i) for each item, keyed by
//	  the property named by key, by key(item), or by position.
//	state(name): read a named state.
//	set(name, value): write a named state.
//	remember(f): the value f() returned the first time this
//	  position was composed.
//
// Some useful utilities:
//
//	gensym(): a random string.
//	cronNext(expr): the next time matching the cron expression.
//	log(x): log x.
//
// The Testing flag must be set to see sleep(ms).
func (p *Program) Content(env *core.Env) (core.Composable, error) {
	if env == nil {
		env = &core.Env{}
	}
	if env.Logger == nil {
		env.Logger = hclog.NewNullLogger()
	}
	if env.NewNode == nil {
		return nil, errors.New("env has no NewNode")
	}

	rt := goja.New()
	r := &run{
		p:   p,
		env: env,
		rt:  rt,
	}
	lib := r.library()
	rt.Set("_", lib)
	if p.i.Testing {
		rt.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	v, err := rt.RunProgram(p.prog)
	if err != nil {
		return nil, err
	}
	f, is := goja.AssertFunction(v)
	if !is {
		return nil, fmt.Errorf("program is a %T, not a function", v.Export())
	}

	return func(cm *core.Composer) {
		ictx, cancel := context.WithCancel(cm.Context())
		defer cancel()
		rt.ClearInterrupt()
		go func() {
			<-ictx.Done()
			if cm.Context().Err() != nil {
				rt.Interrupt(InterruptedMessage)
			}
		}()

		r.with(cm, func() {
			if _, err := f(goja.Undefined()); err != nil {
				if _, is := err.(*goja.InterruptedError); is {
					panic(Interrupted)
				}
				panic(err)
			}
		})
	}, nil
}

func (r *run) library() map[string]interface{} {
	rt := r.rt
	return map[string]interface{}{
		"node": func(call goja.FunctionCall) goja.Value {
			cm := r.composer()
			typ := r.toString(call.Argument(0))
			key := core.Join(typ, keyOf(call.Argument(1)))
			var attrs map[string]interface{}
			if a := call.Argument(2); !missing(a) {
				m, is := a.Export().(map[string]interface{})
				if !is {
					r.protest("attrs is not an object")
				}
				attrs = m
			}
			body := r.block(call.Argument(3))
			names := make([]string, 0, len(attrs))
			for k := range attrs {
				names = append(names, k)
			}
			sort.Strings(names)
			node := cm.Node(key, func() interface{} { return r.env.NewNode(typ) }, func(cm *core.Composer) {
				for _, k := range names {
					cm.Set(k, attrs[k])
				}
				if body != nil {
					body(cm)
				}
			})
			return rt.ToValue(node)
		},
		"group": func(key, body goja.Value) {
			r.composer().Key(keyOf(key), r.block(body))
		},
		"call": func(key, args, body goja.Value) {
			cm := r.composer()
			var xs []interface{}
			if !missing(args) {
				x, is := args.Export().([]interface{})
				if !is {
					r.protest("args is not an array")
				}
				xs = x
			}
			b := r.block(body)
			if b == nil {
				r.protest("call needs a body")
			}
			cm.Call(keyOf(key), xs, b)
		},
		"each": func(list, key, body goja.Value) {
			cm := r.composer()
			f, is := goja.AssertFunction(body)
			if !is {
				r.protest("each needs a body")
			}
			if missing(list) {
				return
			}
			obj := list.ToObject(rt)
			length := obj.Get("length")
			if length == nil {
				r.protest("each needs a list")
			}
			n := int(length.ToInteger())
			keyFn, byFn := goja.AssertFunction(key)
			for i := 0; i < n; i++ {
				item := obj.Get(fmt.Sprint(i))
				var k interface{}
				switch {
				case byFn:
					kv, err := keyFn(goja.Undefined(), item)
					if err != nil {
						panic(err)
					}
					k = keyOf(kv)
				case !missing(key):
					k = keyOf(item.ToObject(rt).Get(key.String()))
				default:
					k = int64(i)
				}
				idx := rt.ToValue(i)
				cm.Key(k, func(cm *core.Composer) {
					r.with(cm, func() {
						if _, err := f(goja.Undefined(), item, idx); err != nil {
							panic(err)
						}
					})
				})
			}
		},
		"state": func(name goja.Value) goja.Value {
			cm := r.composer()
			st := r.state(name)
			v, err := st.Read(cm.Snapshot())
			if err != nil {
				r.protest(err.Error())
			}
			return rt.ToValue(v)
		},
		"set": func(name, value goja.Value) {
			cm := r.composer()
			st := r.state(name)
			var x interface{}
			if !missing(value) {
				x = value.Export()
			}
			if err := st.Write(cm.Snapshot(), x); err != nil {
				r.protest(err.Error())
			}
		},
		"remember": func(calc goja.Value) goja.Value {
			cm := r.composer()
			f, is := goja.AssertFunction(calc)
			if !is {
				r.protest("remember needs a function")
			}
			v := cm.Remember(func() interface{} {
				v, err := f(goja.Undefined())
				if err != nil {
					panic(err)
				}
				return v
			})
			return v.(goja.Value)
		},
		"gensym": func() string {
			return uuid.NewString()
		},
		"cronNext": func(x goja.Value) string {
			c, err := cronexpr.Parse(r.toString(x))
			if err != nil {
				r.protest(err.Error())
			}
			return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
		},
		"log": func(x goja.Value) {
			var v interface{}
			if x != nil {
				v = x.Export()
			}
			r.env.Logger.Info("program", "value", v)
		},
	}
}
