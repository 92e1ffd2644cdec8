// Package mqtt implements the MQTT sink. Camera fleets commonly bridge
// into MQTT-based automation, so records publish as JSON under a topic
// prefix split by record kind.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/sink"
)

const Name = "mqtt"

// Options configures the MQTT sink.
type Options struct {
	// Broker is the broker URL, e.g. tcp://host:1883 or ssl://host:8883.
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// TopicPrefix defaults to "argus"; records publish under
	// <prefix>/<kind>.
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
	// TLS enables server TLS; mTLS needs both cert and key files.
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type Sink struct {
	opts    Options
	client  pahomqtt.Client
	emitted atomic.Uint64
	errors  atomic.Uint64
}

// New builds the MQTT sink from its option map.
func New(options map[string]interface{}) (sink.Sink, error) {
	opts := Options{TopicPrefix: "argus", QoS: 1}
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("argus: mqtt sink options: %w", err)
	}
	if opts.Broker == "" {
		return nil, fmt.Errorf("argus: mqtt sink: broker is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("argus: mqtt sink: qos must be 0, 1 or 2")
	}

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	if opts.ClientID != "" {
		clientOpts.SetClientID(opts.ClientID)
	} else {
		hostname, _ := os.Hostname()
		clientOpts.SetClientID("argus-" + hostname)
	}
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.SetKeepAlive(60 * time.Second)

	if opts.TLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if opts.CertFile != "" && opts.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("argus: mqtt sink: load certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.GetLogger().WithError(err).Warn("mqtt connection lost")
	})

	return &Sink{opts: opts, client: pahomqtt.NewClient(clientOpts)}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Start(ctx context.Context) error {
	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("argus: mqtt sink: connect: %w", token.Error())
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":   Name,
		"broker": s.opts.Broker,
		"prefix": s.opts.TopicPrefix,
	}).Info("sink started")
	return nil
}

func (s *Sink) Emit(rec *sink.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("argus: mqtt sink: marshal record: %w", err)
	}
	topic := s.opts.TopicPrefix + "/" + rec.Kind
	token := s.client.Publish(topic, s.opts.QoS, false, data)
	// Publish confirmation rides the background token; blocking the decode
	// goroutine per record would stall capture on a slow broker.
	go func() {
		token.Wait()
		if token.Error() != nil {
			s.errors.Add(1)
			log.GetLogger().WithError(token.Error()).WithField("topic", topic).Warn("mqtt publish failed")
		}
	}()
	s.emitted.Add(1)
	return nil
}

func (s *Sink) Flush() error { return nil }

func (s *Sink) Stop() error {
	s.client.Disconnect(5000)
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":    Name,
		"emitted": s.emitted.Load(),
		"errors":  s.errors.Load(),
	}).Info("sink stopped")
	return nil
}
