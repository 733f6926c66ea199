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


// Package main is a simple single-host strata process that reads
// events from stdin and writes changes to stdout.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/Comcast/strata/sio"
	"github.com/Comcast/strata/util"
)

func main() {
	io := sio.NewStdio(false)

	flag.BoolVar(&io.EchoInput, "echo", false, "echo input")
	flag.BoolVar(&io.Timestamps, "ts", false, "print timestamps")
	flag.BoolVar(&io.ShellExpand, "sh", false, "shell-expand input")
	flag.BoolVar(&io.PadTags, "pad", false, "pad tags")
	flag.BoolVar(&io.Tags, "tags", false, "tag output lines")

	confFile := flag.String("conf", "", "host configuration file")
	program := flag.String("program", "", "program file (overrides the conf)")
	wait := flag.Duration("wait", 0, "wait this long before shutting down couplings")

	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	io.Logger = util.NewLogger("stdio", conf.Verbose)

	h, err := sio.NewHost(ctx, conf, io, nil)
	if err != nil {
		panic(err)
	}

	if err = io.Start(ctx); err != nil {
		panic(err)
	}

	go func() {
		<-io.InputEOF
		if err := h.Flush(ctx); err != nil {
			h.Logger.Warn("flush failed", "error", err)
		}
		time.Sleep(*wait)
		cancel()
	}()

	if err := h.Run(ctx); err != nil {
		panic(err)
	}

	if err = io.Stop(context.Background()); err != nil {
		panic(err)
	}
	if err = h.Close(context.Background()); err != nil {
		panic(err)
	}
}
