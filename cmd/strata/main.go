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

// Package main is a single-host strata process.  Events arrive from
// stdin, an MQTT broker, or a websocket server, and tree changes go
// back the same way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Comcast/strata/sio"
	"github.com/Comcast/strata/util"
)

func main() {

	var (
		coupling  = flag.String("io", "std", `IO protocol: "std", "mq", or "ws"`)
		confFile  = flag.String("conf", "", "Optional host configuration file")
		program   = flag.String("program", "", "Program file (overrides the conf)")
		httpAddr  = flag.String("http", "", "Optional listen address for the HTTP API")
		watch     = flag.Bool("watch", false, "Reload the program file when it changes")
		wait      = flag.Duration("wait", time.Second, "Wait this long after input EOF before shutting down")
		haltOnEOF = flag.Bool("halt-on-eof", false, "Stop on input EOF")
		verbose   = flag.Bool("v", false, "Verbose")
		help      = flag.Bool("h", false, "Get usage")
	)

	flag.Parse()

	if *help {
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, "\n-io std (default):\n\n")
		_, fs := NewStdCouplings(nil)
		fs.PrintDefaults()

		fmt.Fprintf(os.Stderr, "\n-io mq:\n\n")
		_, fs = NewMQTTCouplings(nil, nil)
		fs.PrintDefaults()

		fmt.Fprintf(os.Stderr, "\n-io ws:\n\n")
		_, fs = NewWebSocketCouplings(nil)
		fs.PrintDefaults()

		os.Exit(0)
	}

	conf := &sio.HostConf{}
	if *confFile != "" {
		var err error
		if conf, err = sio.LoadHostConf(*confFile); err != nil {
			panic(err)
		}
	}
	if *program != "" {
		conf.Program = *program
	}
	if *httpAddr != "" {
		conf.HTTP = *httpAddr
	}
	conf.Watch = conf.Watch || *watch
	conf.HaltOnEOF = conf.HaltOnEOF || *haltOnEOF
	conf.Verbose = conf.Verbose || *verbose

	logger := util.NewLogger("strata", conf.Verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		cio sio.Couplings
		std *sio.Stdio
	)
	switch *coupling {
	case "std":
		std, _ = NewStdCouplings(flag.Args())
		std.Logger = logger.Named("stdio")
		cio = std
	case "mq", "mqtt":
		c, _ := NewMQTTCouplings(flag.Args(), logger.Named("mqtt"))
		cio = c
	case "ws":
		c, _ := NewWebSocketCouplings(flag.Args())
		c.Logger = logger.Named("ws")
		cio = c
	default:
		panic(fmt.Errorf("unknown io: '%s'", *coupling))
	}

	if err := cio.Start(ctx); err != nil {
		panic(err)
	}

	h, err := sio.NewHost(ctx, conf, cio, nil)
	if err != nil {
		panic(err)
	}

	if std != nil && !conf.HaltOnEOF {
		go func() {
			<-std.InputEOF
			if err := h.Flush(ctx); err != nil {
				logger.Warn("flush failed", "error", err)
			}
			logger.Debug("input EOF", "wait", *wait)
			time.Sleep(*wait)
			cancel()
		}()
	}

	if err := h.Run(ctx); err != nil {
		panic(err)
	}
	cancel()

	if err = cio.Stop(context.Background()); err != nil {
		logger.Warn("couplings stop failed", "error", err)
	}
	if err = h.Close(context.Background()); err != nil {
		panic(err)
	}
}

// NewStdCouplings makes stdio couplings from command-line args.
//
// To help with usage reporting, it also returns the flag.FlagSet used
// to process the args.  With nil args, the Stdio is nil.
func NewStdCouplings(args []string) (*sio.Stdio, *flag.FlagSet) {
	s := sio.NewStdio(false)
	fs := flag.NewFlagSet("std", flag.ExitOnError)
	fs.BoolVar(&s.EchoInput, "echo", false, "Echo input")
	fs.BoolVar(&s.Timestamps, "ts", false, "Print timestamps")
	fs.BoolVar(&s.ShellExpand, "sh", false, "Shell-expand input")
	fs.BoolVar(&s.Tags, "tags", false, "Tag output lines")
	fs.BoolVar(&s.PadTags, "pad", false, "Pad tags")
	fs.BoolVar(&s.Batches, "batches", false, "Write each result on one line")
	if args == nil {
		return nil, fs
	}
	fs.Parse(args)
	return s, fs
}

// NewWebSocketCouplings makes websocket client couplings from
// command-line args.
func NewWebSocketCouplings(args []string) (*sio.WebSocketCouplings, *flag.FlagSet) {
	fs := flag.NewFlagSet("ws", flag.ExitOnError)
	u := fs.String("url", "ws://localhost:8123/ws", "Server URL")
	if args == nil {
		return nil, fs
	}
	fs.Parse(args)
	return sio.NewWebSocketCouplings(*u), fs
}
