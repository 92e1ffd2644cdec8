package cmd

import (
	"context"

	"firestige.xyz/argus/internal/capture"
	"firestige.xyz/argus/internal/config"
	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/metrics"
	"firestige.xyz/argus/internal/pipeline"
	"firestige.xyz/argus/internal/sink"

	// Register the built-in sinks.
	_ "firestige.xyz/argus/internal/sink/all"
)

// runCapture wires a packet source into the decode pipeline and runs it
// until the source drains or a shutdown signal arrives. Both the live and
// replay commands end up here; they differ only in the source they build.
func runCapture(name string, cfg *config.Config, source capture.Source) (pipeline.Stats, error) {
	sinks, err := buildSinks(cfg.Sinks)
	if err != nil {
		return pipeline.Stats{}, err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return pipeline.Stats{}, err
		}
		defer srv.Stop(context.Background())
	}

	p, err := pipeline.New(pipeline.Config{
		Name:            name,
		Source:          source,
		Sinks:           sinks,
		QueueSize:       cfg.Capture.QueueSize,
		FragmentTTL:     cfg.Decode.FragmentTTL,
		FragmentCleanup: cfg.Decode.FragmentCleanup,
		KeepPayload:     cfg.Decode.KeepPayload,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	if err := p.Run(ctx); err != nil {
		return p.Stats(), err
	}
	return p.Stats(), nil
}

func buildSinks(configs []config.SinkConfig) ([]sink.Sink, error) {
	sinks := make([]sink.Sink, 0, len(configs))
	for _, sc := range configs {
		s, err := sink.New(sc.Name, sc.Options)
		if err != nil {
			return nil, err
		}
		log.GetLogger().WithField("sink", s.Name()).Debug("sink configured")
		sinks = append(sinks, s)
	}
	return sinks, nil
}
