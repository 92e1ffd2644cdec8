// Package config loads the argus configuration using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/argus/internal/log"
)

// Config is the top level static configuration. It maps to the `argus:`
// root key in YAML; every key can be overridden through the environment as
// ARGUS_<SECTION>_<KEY> (for example ARGUS_LOG_LEVEL).
type Config struct {
	Log     log.Config    `mapstructure:"log"`
	Capture CaptureConfig `mapstructure:"capture"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Sinks   []SinkConfig  `mapstructure:"sinks"`
}

// CaptureConfig selects the live capture device and its ring parameters.
// Replay from a pcap file ignores everything except the BPF filter, which
// both paths apply.
type CaptureConfig struct {
	Device    string `mapstructure:"device"`
	SnapLen   int    `mapstructure:"snap_len"`
	BufferMB  int    `mapstructure:"buffer_mb"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	FanoutID  uint16 `mapstructure:"fanout_id"`
	BPF       string `mapstructure:"bpf"`
	QueueSize int    `mapstructure:"queue_size"`
}

// DecodeConfig bounds the decode stage. The fragment TTL is how long an
// unfinished datagram reassembly run may wait for its missing pieces.
type DecodeConfig struct {
	FragmentTTL     time.Duration `mapstructure:"fragment_ttl"`
	FragmentCleanup time.Duration `mapstructure:"fragment_cleanup"`
	// KeepPayload carries decoded section bytes into sink records. Off by
	// default; camera XML can hold credentials and media sections are big.
	KeepPayload bool `mapstructure:"keep_payload"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// SinkConfig names one sink and carries its options verbatim; the sink
// factory decodes them.
type SinkConfig struct {
	Name    string                 `mapstructure:"name"`
	Options map[string]interface{} `mapstructure:"options"`
}

// configRoot is the wrapper matching the YAML structure `argus: ...`.
type configRoot struct {
	Argus Config `mapstructure:"argus"`
}

// Load reads the configuration file at path. An empty path skips the file
// and yields defaults plus environment overrides, so the CLI works without
// a config file at all.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("argus: read config file: %w", err)
		}
	}

	// The `argus.` key prefix maps onto ARGUS_ env vars through the
	// replacer, no explicit env prefix needed.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("argus: unmarshal config: %w", err)
	}
	cfg := root.Argus

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("argus: config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers defaults under the `argus.` root so file, env and
// default values merge through the same keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("argus.log.level", "info")

	// Keys must be known to viper for env overrides to reach Unmarshal,
	// so even empty values are registered.
	v.SetDefault("argus.capture.device", "")
	v.SetDefault("argus.capture.fanout_id", 0)
	v.SetDefault("argus.capture.snap_len", 65535)
	v.SetDefault("argus.capture.buffer_mb", 64)
	v.SetDefault("argus.capture.timeout_ms", 100)
	// Control connections ride TCP 9000; UDP data flows use negotiated
	// ports, so the filter keeps all UDP and demuxes on the magic.
	v.SetDefault("argus.capture.bpf", "tcp port 9000 or udp")
	v.SetDefault("argus.capture.queue_size", 4096)

	v.SetDefault("argus.decode.fragment_ttl", "30s")
	v.SetDefault("argus.decode.fragment_cleanup", "10s")
	v.SetDefault("argus.decode.keep_payload", false)

	v.SetDefault("argus.metrics.enabled", false)
	v.SetDefault("argus.metrics.listen", ":9091")
	v.SetDefault("argus.metrics.path", "/metrics")
}

func (cfg *Config) validate() error {
	switch cfg.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}

	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("capture.snap_len must be positive, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.BufferMB <= 0 {
		return fmt.Errorf("capture.buffer_mb must be positive, got %d", cfg.Capture.BufferMB)
	}
	if cfg.Capture.QueueSize <= 0 {
		return fmt.Errorf("capture.queue_size must be positive, got %d", cfg.Capture.QueueSize)
	}

	if cfg.Decode.FragmentTTL <= 0 {
		return fmt.Errorf("decode.fragment_ttl must be positive, got %s", cfg.Decode.FragmentTTL)
	}
	if cfg.Decode.FragmentCleanup <= 0 {
		return fmt.Errorf("decode.fragment_cleanup must be positive, got %s", cfg.Decode.FragmentCleanup)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled is true")
	}

	// No configured sink means console output.
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Name: "console"}}
	}
	for i, s := range cfg.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sinks[%d].name is required", i)
		}
	}
	return nil
}
