// Package console implements the console sink: one line per record on
// stdout, in text or JSON form. The default sink when nothing is configured.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/sink"
)

const Name = "console"

// Options configures the console sink.
type Options struct {
	// Format is "text" (default) or "json".
	Format string `mapstructure:"format"`
}

type Sink struct {
	format  string
	out     io.Writer
	emitted atomic.Uint64
}

// New builds the console sink from its option map.
func New(options map[string]interface{}) (sink.Sink, error) {
	var opts Options
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("argus: console sink options: %w", err)
	}
	switch opts.Format {
	case "":
		opts.Format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("argus: console sink: invalid format %q, must be text or json", opts.Format)
	}
	return &Sink{format: opts.Format, out: os.Stdout}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Start(ctx context.Context) error { return nil }

func (s *Sink) Emit(rec *sink.Record) error {
	s.emitted.Add(1)
	if s.format == "json" {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("argus: console sink: marshal record: %w", err)
		}
		_, err = fmt.Fprintln(s.out, string(data))
		return err
	}
	_, err := fmt.Fprintln(s.out, formatText(rec))
	return err
}

// Flush is a no-op, stdout is unbuffered here.
func (s *Sink) Flush() error { return nil }

func (s *Sink) Stop() error {
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":    Name,
		"emitted": s.emitted.Load(),
	}).Info("sink stopped")
	return nil
}

func formatText(rec *sink.Record) string {
	head := fmt.Sprintf("[%s] %s %s > %s %s",
		rec.Timestamp.Format("15:04:05.000"),
		rec.Transport, rec.Src, rec.Dst, rec.Kind)

	switch {
	case rec.Message != nil:
		m := rec.Message
		line := fmt.Sprintf("%s class=%s type=%d/%s ch=%d stream=%s body=%d",
			head, m.Class, m.Type, m.TypeName, m.Channel, m.Stream, m.BodyLen)
		if m.ConnID != 0 {
			line += fmt.Sprintf(" conn=%d", m.ConnID)
		}
		if m.Username != "" {
			line += fmt.Sprintf(" user=%s", m.Username)
		}
		if m.Meta != nil {
			line += " meta=" + formatSection(m.Meta)
		}
		if m.Binary != nil {
			line += " bin=" + formatSection(m.Binary)
		}
		return line
	case rec.Discovery != nil:
		d := rec.Discovery
		line := fmt.Sprintf("%s tid=%d", head, d.TID)
		if d.Body != nil {
			line += " body=" + formatSection(d.Body)
		}
		return line
	case rec.Ack != nil:
		return fmt.Sprintf("%s conn=%d group=%d last_ack=%d",
			head, rec.Ack.ConnID, rec.Ack.Group, rec.Ack.LastAck)
	}
	return head
}

func formatSection(sec *sink.SectionRecord) string {
	if sec.XMLRoot != "" {
		return fmt.Sprintf("%s(%d,%s)", sec.Kind, sec.Len, sec.XMLRoot)
	}
	return fmt.Sprintf("%s(%d)", sec.Kind, sec.Len)
}
