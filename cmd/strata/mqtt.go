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

package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Comcast/strata/sio"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-hclog"
)

// NewMQTTCouplings makes MQTT couplings from command-line args, which
// follow mosquitto_sub's.
func NewMQTTCouplings(args []string, logger hclog.Logger) (*sio.MQTTCouplings, *flag.FlagSet) {
	var (
		fs = flag.NewFlagSet("mq", flag.ExitOnError)

		broker      = fs.String("h", "tcp://localhost", "Broker hostname")
		clientId    = fs.String("i", "", "Client id")
		port        = fs.Int("p", 1883, "Broker port")
		keepAlive   = fs.Int("k", 10, "Keep-alive in seconds")
		userName    = fs.String("u", "", "Username")
		password    = fs.String("P", "", "Password")
		willTopic   = fs.String("will-topic", "", "Optional will topic")
		willPayload = fs.String("will-payload", "", "Optional will message")
		willQoS     = fs.Int("will-qos", 0, "Optional will QoS")
		willRetain  = fs.Bool("will-retain", false, "Optional will retention")
		reconnect   = fs.Bool("reconnect", false, "Automatically attempt to reconnect")
		clean       = fs.Bool("c", true, "Clean session")
		quiesce     = fs.Int("quiesce", 100, "Disconnection quiescence (in milliseconds)")

		certFilename = fs.String("cert", "", "Optional cert filename")
		keyFilename  = fs.String("key", "", "Optional key filename")
		insecure     = fs.Bool("insecure", false, "Skip broker cert checking")
		caFilename   = fs.String("cafile", "", "Optional CA cert filename")
		caPath       = fs.String("capath", "", "Optional directory for -cafile")

		subTopics     = fs.String("t", "strata/events", "Subscription topic(s) as TOPIC[:QOS],...")
		injectTopic   = fs.Bool("inject-topic", true, "Put topic in map of incoming messages")
		outboundTopic = fs.String("out-topic", "strata/changes", "Out-bound topic as TOPIC[:QOS]")
		perChange     = fs.Bool("per-change", false, "Publish each change as its own message")
		inTimeout     = fs.Duration("in-timeout", time.Second, "Timeout for in-bound queuing")
	)

	if args == nil {
		return nil, fs
	}

	fs.Parse(args)

	mqtt.ERROR = log.New(os.Stderr, "mqtt.error ", 0)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s:%d", *broker, *port))
	opts.SetClientID(*clientId)
	opts.SetKeepAlive(time.Second * time.Duration(*keepAlive))
	opts.Username = *userName
	opts.Password = *password
	opts.AutoReconnect = *reconnect
	opts.CleanSession = *clean

	if *willTopic != "" {
		if *willPayload == "" {
			logger.Error("will topic without payload")
			os.Exit(1)
		}
		opts.WillEnabled = true
		opts.WillTopic = *willTopic
		opts.WillPayload = []byte(*willPayload)
		opts.WillRetained = *willRetain
		opts.WillQos = byte(*willQoS)
	}

	tlsConf := &tls.Config{
		InsecureSkipVerify: *insecure,
	}

	if *caFilename != "" {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		filename := filepath.Join(*caPath, *caFilename)
		certs, err := os.ReadFile(filename)
		if err != nil {
			logger.Error("couldn't read CA file", "filename", filename, "error", err)
			os.Exit(1)
		}
		if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
			logger.Warn("no certs appended, using system certs only")
		}
		tlsConf.RootCAs = rootCAs
	}

	if *keyFilename != "" {
		cert, err := tls.LoadX509KeyPair(*certFilename, *keyFilename)
		if err != nil {
			logger.Error("couldn't load key pair", "error", err)
			os.Exit(1)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	opts.SetTLSConfig(tlsConf)

	c := sio.NewMQTTCouplings(opts)
	c.Logger = logger
	c.Quiesce = uint(*quiesce)
	c.SubTopics = *subTopics
	c.InjectTopic = *injectTopic
	c.OutboundTopic = *outboundTopic
	c.PerChange = *perChange
	c.InTimeout = *inTimeout

	return c, fs
}
