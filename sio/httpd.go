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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Comcast/strata/tools"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

// ShutdownTimeout bounds how long Serve waits for requests to finish.
var ShutdownTimeout = 5 * time.Second

// MaxEventBytes bounds the body of a POST to /events.
var MaxEventBytes int64 = 1 << 20

// Handler returns the host's HTTP API:
//
//	/metrics       Prometheus metrics
//	/tree          the composed tree as JSON
//	/states        state values as JSON
//	/events        POST an input event
//	/timers        pending timers as JSON
//	/debug/table   the slot table as HTML
//	/ws            a websocket session
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()

	puntf := func(w http.ResponseWriter, status int, format string, args ...interface{}) {
		s := fmt.Sprintf(format, args...)
		h.Logger.Warn("http error", "status", status, "error", s)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		js, err := json.Marshal(map[string]interface{}{
			"error": s,
		})
		if err != nil {
			// Better than nothing?
			js = []byte(s)
		}
		fmt.Fprintf(w, "%s\n", js)
	}

	writeJSON := func(w http.ResponseWriter, x interface{}) {
		js, err := json.Marshal(x)
		if err != nil {
			puntf(w, http.StatusInternalServerError, "marshal error %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "%s\n", js)
	}

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "\"pong\"\n")
	})

	mux.HandleFunc("/tree", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.tree)
	})

	mux.HandleFunc("/states", func(w http.ResponseWriter, r *http.Request) {
		vals, err := h.Values()
		if err != nil {
			puntf(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, vals)
	})

	mux.HandleFunc("/timers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.timers.Pending())
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			puntf(w, http.StatusMethodNotAllowed, "POST an event")
			return
		}
		bs, err := io.ReadAll(io.LimitReader(r.Body, MaxEventBytes))
		if err != nil {
			puntf(w, http.StatusBadRequest, "read error %v", err)
			return
		}
		var msg interface{}
		if err := json.Unmarshal(bs, &msg); err != nil {
			puntf(w, http.StatusBadRequest, "can't parse: %v", err)
			return
		}
		if err := h.ProcessMsg(r.Context(), msg); err != nil {
			puntf(w, http.StatusBadRequest, "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/debug/table", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tools.RenderTablePage(h.comp.Table(), h.Conf.Id, w, nil); err != nil {
			h.Logger.Warn("table render failed", "error", err)
		}
	})

	mux.HandleFunc("/ws", h.serveWebSocket)

	return mux
}

// Serve runs the HTTP API on addr until ctx is done.  At most
// Conf.MaxConns connections are served at once.
func (h *Host) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	max := h.Conf.MaxConns
	if max <= 0 {
		max = DefaultMaxConns
	}
	l = netutil.LimitListener(l, max)

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.Logger.Info("serving", "addr", l.Addr().String(), "max_conns", max)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(l)
	}()

	select {
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	// Shutdown doesn't touch hijacked websocket connections.
	h.sessions.closeAll()
	return srv.Shutdown(sctx)
}
