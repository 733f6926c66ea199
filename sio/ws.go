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
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// SessionBuffer is the number of Results a websocket session can fall
// behind before Results are dropped for it.
var SessionBuffer = 64

var upgrader = websocket.Upgrader{} // use default options

// session is one websocket renderer connected to a host.
type session struct {
	id   string
	conn *websocket.Conn
	out  chan *Result
}

type sessions struct {
	h *Host

	sync.Mutex
	m map[string]*session
}

func newSessions(h *Host) *sessions {
	return &sessions{
		h: h,
		m: make(map[string]*session),
	}
}

func (ss *sessions) add(s *session) {
	ss.Lock()
	ss.m[s.id] = s
	ss.Unlock()
}

func (ss *sessions) remove(id string) {
	ss.Lock()
	delete(ss.m, id)
	ss.Unlock()
}

// Count returns the number of connected sessions.
func (ss *sessions) Count() int {
	ss.Lock()
	defer ss.Unlock()
	return len(ss.m)
}

func (ss *sessions) broadcast(r *Result) {
	ss.Lock()
	defer ss.Unlock()
	for id, s := range ss.m {
		select {
		case s.out <- r:
		default:
			ss.h.Logger.Warn("session blocked", "session", id)
		}
	}
}

func (ss *sessions) closeAll() {
	ss.Lock()
	defer ss.Unlock()
	for _, s := range ss.m {
		s.conn.Close()
	}
}

// Hello is the first message a websocket session receives.
type Hello struct {
	Session string      `json:"session"`
	Host    string      `json:"host"`
	Tree    interface{} `json:"tree"`
}

// SessionCount returns the number of connected websocket sessions.
func (h *Host) SessionCount() int {
	return h.sessions.Count()
}

// serveWebSocket upgrades the request.  The session gets a Hello with
// the current tree and then every Result.  Messages from the session
// are processed as input events.
func (h *Host) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("upgrade error", "error", err)
		return
	}
	defer conn.Close()

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan *Result, SessionBuffer),
	}
	logger := h.Logger.With("session", s.id)
	logger.Debug("session starting")

	// Results queue in s.out until the hello is written.
	h.sessions.add(s)
	defer h.sessions.remove(s.id)

	hello := &Hello{
		Session: s.id,
		Host:    h.Conf.Id,
		Tree:    h.tree,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Warn("hello failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-s.out:
				if err := conn.WriteJSON(res); err != nil {
					logger.Warn("write error", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, bs, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("session done", "error", err)
			return
		}
		if len(bs) == 0 {
			continue
		}
		var msg interface{}
		if err = json.Unmarshal(bs, &msg); err == nil {
			err = h.ProcessMsg(ctx, msg)
		}
		if err != nil {
			select {
			case s.out <- &Result{Host: h.Conf.Id, Error: err.Error()}:
			default:
			}
		}
	}
}

// WebSocketCouplings is a Couplings for a websocket client.  Messages
// from the server are input events, and Results are written back to
// the server.
type WebSocketCouplings struct {
	URL    string
	Logger hclog.Logger

	in   chan interface{}
	out  chan *Result
	done chan bool
	conn *websocket.Conn
	wg   sync.WaitGroup
}

func NewWebSocketCouplings(url string) *WebSocketCouplings {
	return &WebSocketCouplings{
		URL:    url,
		Logger: hclog.NewNullLogger(),
		in:     make(chan interface{}),
		out:    make(chan *Result),
		done:   make(chan bool),
	}
}

// Start creates the WebSocket session and starts processing it.
func (c *WebSocketCouplings) Start(ctx context.Context) error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}

	c.Logger.Info("connecting", "url", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	c.conn = conn

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		for {
			_, bs, err := conn.ReadMessage()
			if err != nil {
				c.Logger.Debug("read done", "error", err)
				return
			}
			if len(bs) == 0 {
				continue
			}

			var msg interface{}
			if err = json.Unmarshal(bs, &msg); err != nil {
				c.Logger.Warn("bad input", "error", err)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case c.in <- msg:
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-c.out:
				if err := conn.WriteJSON(r); err != nil {
					c.Logger.Warn("write error", "error", err)
					return
				}
			}
		}
	}()

	return nil
}

// IO just returns the channels that Start() initialized.
func (c *WebSocketCouplings) IO(ctx context.Context) (chan interface{}, chan *Result, chan bool, error) {
	return c.in, c.out, c.done, nil
}

// Stop terminates the WebSocket connection.  The context given to
// Start should be done first.
func (c *WebSocketCouplings) Stop(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	c.Logger.Info("disconnecting")
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
