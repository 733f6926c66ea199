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

// Package main renders a program's composition.  The program is
// composed once against the given states, and then the slot table or
// the tree is written to stdout.
//
//	strataview [opts] table|html|mermaid|dot|tree|json PROGRAM
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Comcast/strata/sio"
	"github.com/Comcast/strata/tools"
)

func Usage() {
	fmt.Fprintf(os.Stderr, "Usage: strataview [opts] table|html|mermaid|dot|tree|json PROGRAM\n\n")
	flag.PrintDefaults()
}

func main() {
	var (
		statesJS  = flag.String("states", "{}", "Initial state values (JSON object)")
		confFile  = flag.String("conf", "", "Optional host configuration file")
		highlight = flag.String("highlight", "", "Node type to highlight in dot output")
		keys      = flag.Bool("keys", false, "Show group keys in mermaid output")
		title     = flag.String("title", "composition", "Title for html output")
	)
	flag.Usage = Usage
	flag.Parse()

	if flag.NArg() != 2 {
		Usage()
		os.Exit(1)
	}
	what, filename := flag.Arg(0), flag.Arg(1)

	if err := run(what, filename, *confFile, *statesJS, *highlight, *title, *keys); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(what, filename, confFile, statesJS, highlight, title string, keys bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := &sio.HostConf{}
	if confFile != "" {
		var err error
		if conf, err = sio.LoadHostConf(confFile); err != nil {
			return err
		}
	}
	conf.Program = filename
	conf.Watch = false
	conf.HTTP = ""
	conf.Storage = sio.StorageConf{}
	conf.Schedules = nil

	var states map[string]interface{}
	if err := json.Unmarshal([]byte(statesJS), &states); err != nil {
		return err
	}
	for name, v := range states {
		conf.States = append(conf.States, &sio.StateConf{
			Name:    name,
			Initial: v,
		})
	}

	c := sio.NewChans()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-c.Out:
				if r.Error != "" {
					fmt.Fprintf(os.Stderr, "error: %s\n", r.Error)
				}
			}
		}
	}()

	h, err := sio.NewHost(ctx, conf, c, nil)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())

	if err = h.Flush(ctx); err != nil {
		return err
	}

	table := h.Composition().Table()
	out := os.Stdout

	switch what {
	case "table":
		return tools.TableMarkdown(table, out)
	case "html":
		return tools.RenderTablePage(table, title, out, nil)
	case "mermaid":
		return tools.Mermaid(table, out, &tools.MermaidOpts{
			ShowKeys: keys,
			NodeFill: "#bcf2db",
		})
	case "dot":
		t := h.Tree()
		t.RLock()
		defer t.RUnlock()
		return tools.Dot(t.Root, out, highlight)
	case "tree":
		fmt.Fprintf(out, "%s\n", h.Tree())
		return nil
	case "json":
		fmt.Fprintf(out, "%s\n", sio.Pretty(h.Tree()))
		return nil
	}
	return fmt.Errorf("unknown output %q", what)
}
