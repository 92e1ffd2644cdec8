// Package kafka implements the Kafka sink. Records go out as JSON with
// batching and compression; the message key is the transport pair so one
// camera conversation stays on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/sink"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Options configures the Kafka sink.
type Options struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type Sink struct {
	opts    Options
	writer  *kafkago.Writer
	emitted atomic.Uint64
	errors  atomic.Uint64
}

// New builds the Kafka sink from its option map.
func New(options map[string]interface{}) (sink.Sink, error) {
	opts := Options{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &opts,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("argus: kafka sink options: %w", err)
	}
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("argus: kafka sink: brokers is required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("argus: kafka sink: topic is required")
	}

	writerConfig := kafkago.WriterConfig{
		Brokers:      opts.Brokers,
		Topic:        opts.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
		MaxAttempts:  opts.MaxAttempts,
	}
	switch opts.Compression {
	case "none", "":
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("argus: kafka sink: invalid compression %q", opts.Compression)
	}

	return &Sink{opts: opts, writer: kafkago.NewWriter(writerConfig)}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Start(ctx context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":    Name,
		"brokers": s.opts.Brokers,
		"topic":   s.opts.Topic,
	}).Info("sink started")
	return nil
}

func (s *Sink) Emit(rec *sink.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("argus: kafka sink: marshal record: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(rec.Src + "-" + rec.Dst),
		Value: value,
		Time:  rec.Timestamp,
	}
	if err := s.writer.WriteMessages(context.Background(), msg); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("argus: kafka sink: write: %w", err)
	}
	s.emitted.Add(1)
	return nil
}

// Flush is a no-op; the writer flushes on its batch size and timeout.
func (s *Sink) Flush() error { return nil }

func (s *Sink) Stop() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("argus: kafka sink: close: %w", err)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":    Name,
		"emitted": s.emitted.Load(),
		"errors":  s.errors.Load(),
	}).Info("sink stopped")
	return nil
}
