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
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-hclog"
)

// MQTTCouplings is a Couplings for an MQTT client.  Messages on the
// subscribed topics are input events.  Results are published to
// OutboundTopic.
type MQTTCouplings struct {
	Client mqtt.Client
	Logger hclog.Logger

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint

	// SubTopics is a comma-separated list of TOPIC or TOPIC:QOS.
	SubTopics string

	// InjectTopic puts the topic in the map of incoming messages.
	InjectTopic bool

	// OutboundTopic is TOPIC or TOPIC:QOS.
	OutboundTopic string

	// PerChange publishes each change as its own message.
	PerChange bool

	// InTimeout bounds in-bound queuing.
	InTimeout time.Duration

	incoming chan interface{}
	outbound chan *Result
	done     chan bool
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewMQTTCouplings makes couplings whose client is built from opts.
// Subscriptions get their own handlers, so opts doesn't need a
// DefaultPublishHandler.
func NewMQTTCouplings(opts *mqtt.ClientOptions) *MQTTCouplings {
	c := &MQTTCouplings{
		Logger:        hclog.NewNullLogger(),
		Quiesce:       100,
		InjectTopic:   true,
		OutboundTopic: "strata/changes",
		InTimeout:     time.Second,

		incoming: make(chan interface{}),
		outbound: make(chan *Result),
		done:     make(chan bool),
	}
	if opts != nil {
		opts.OnConnectionLost = func(client mqtt.Client, err error) {
			c.Logger.Warn("MQTT connection lost", "error", err)
		}
		c.Client = mqtt.NewClient(opts)
	}
	return c
}

// Handler returns a Paho publish handler that queues incoming
// messages.  Install it in the client options before connecting.
func (c *MQTTCouplings) Handler(ctx context.Context) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.inHandler(ctx, msg)
	}
}

// inHandler handles messages sent to us from the MQTT broker due to
// our subscriptions.
func (c *MQTTCouplings) inHandler(ctx context.Context, msg mqtt.Message) {
	var (
		x       interface{}
		payload = msg.Payload()
		topic   = msg.Topic()
	)
	c.Logger.Debug("incoming", "topic", topic, "payload", string(payload))

	if err := json.Unmarshal(payload, &x); err != nil {
		c.Logger.Warn("couldn't JSON-parse payload", "topic", topic, "error", err)
		return
	}
	if m, is := x.(map[string]interface{}); is && c.InjectTopic {
		m["topic"] = topic
	}

	to := time.NewTimer(c.InTimeout)
	defer to.Stop()

	select {
	case <-ctx.Done():
	case c.incoming <- x:
	case <-to.C:
		c.Logger.Warn("dropped incoming message due to stall", "topic", topic)
	}
}

// Start connects and subscribes.
func (c *MQTTCouplings) Start(ctx context.Context) error {
	c.Logger.Info("connecting to broker")
	if token := c.Client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	for _, topic := range strings.Split(c.SubTopics, ",") {
		topic, qos := parseTopic(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		c.Logger.Info("subscribing", "topic", topic, "qos", qos)
		handler := c.Handler(ctx)
		if t := c.Client.Subscribe(topic, qos, handler); t.Wait() && t.Error() != nil {
			return t.Error()
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.outLoop(ctx); err != nil {
			c.Logger.Error("publishing stopped", "error", err)
		}
	}()

	return nil
}

// IO returns the channels for incoming messages and out-bound
// Results.
func (c *MQTTCouplings) IO(ctx context.Context) (chan interface{}, chan *Result, chan bool, error) {
	return c.incoming, c.outbound, c.done, nil
}

type publication struct {
	topic   string
	qos     byte
	payload []byte
}

// publications renders a Result as MQTT messages.
func (c *MQTTCouplings) publications(r *Result) ([]publication, error) {
	topic, qos := parseTopic(c.OutboundTopic)
	var xs []interface{}
	if c.PerChange {
		for _, ch := range r.Changes {
			xs = append(xs, ch)
		}
		if r.Error != "" {
			xs = append(xs, map[string]interface{}{"error": r.Error})
		}
	} else {
		xs = []interface{}{r}
	}

	acc := make([]publication, 0, len(xs))
	for _, x := range xs {
		js, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		acc = append(acc, publication{
			topic:   topic,
			qos:     qos,
			payload: js,
		})
	}
	return acc, nil
}

// outLoop forwards Results to the MQTT broker.
func (c *MQTTCouplings) outLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-c.outbound:
			ps, err := c.publications(r)
			if err != nil {
				c.Logger.Warn("failed to marshal result", "error", err)
				continue
			}
			for _, p := range ps {
				token := c.Client.Publish(p.topic, p.qos, false, p.payload)
				token.Wait()
				if err := token.Error(); err != nil {
					return err
				}
			}
		}
	}
}

// Stop terminates the MQTT session.  The context given to Start
// should be done first.
func (c *MQTTCouplings) Stop(ctx context.Context) error {
	c.Logger.Info("disconnecting")
	c.Client.Disconnect(c.Quiesce)
	c.doneOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// parseTopic can extract QoS from a topic name of the form TOPIC:QOS.
func parseTopic(s string) (string, byte) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 || 2 < n {
		return s, 0
	}
	return s[:i], byte(n)
}
