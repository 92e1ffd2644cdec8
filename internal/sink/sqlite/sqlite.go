// Package sqlite implements the SQLite sink: an on-disk index of decoded
// records for ad hoc querying after a capture session. Rows carry the
// header fields worth filtering on plus the full record as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	_ "modernc.org/sqlite"

	"firestige.xyz/argus/internal/log"
	"firestige.xyz/argus/internal/sink"
)

const Name = "sqlite"

const defaultBatchSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT    NOT NULL,
	transport TEXT    NOT NULL,
	src       TEXT    NOT NULL,
	dst       TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	class     TEXT,
	msg_type  INTEGER,
	type_name TEXT,
	channel   INTEGER,
	stream    TEXT,
	conn_id   INTEGER,
	body_len  INTEGER,
	meta_kind TEXT,
	meta_root TEXT,
	bin_kind  TEXT,
	detail    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
CREATE INDEX IF NOT EXISTS idx_records_type ON records(msg_type);
`

// Options configures the SQLite sink.
type Options struct {
	// Path is the database file; parent directories are created.
	Path string `mapstructure:"path"`
	// BatchSize is how many rows buffer before a transactional write.
	BatchSize int `mapstructure:"batch_size"`
}

// Sink buffers rows and writes them in transactions. Emit and Flush run on
// the decode goroutine; there is no internal locking.
type Sink struct {
	opts    Options
	db      *sql.DB
	pending []*sink.Record
	emitted atomic.Uint64
}

// New builds the SQLite sink from its option map.
func New(options map[string]interface{}) (sink.Sink, error) {
	opts := Options{BatchSize: defaultBatchSize}
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("argus: sqlite sink options: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("argus: sqlite sink: path is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Sink{opts: opts}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0o755); err != nil {
		return fmt.Errorf("argus: sqlite sink: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", s.opts.Path)
	if err != nil {
		return fmt.Errorf("argus: sqlite sink: open %s: %w", s.opts.Path, err)
	}
	// SQLite takes one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.GetLogger().WithError(err).Warn("sqlite WAL mode unavailable")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("argus: sqlite sink: apply schema: %w", err)
	}
	s.db = db
	log.GetLogger().WithFields(map[string]interface{}{
		"sink": Name,
		"path": s.opts.Path,
	}).Info("sink started")
	return nil
}

func (s *Sink) Emit(rec *sink.Record) error {
	s.pending = append(s.pending, rec)
	if len(s.pending) >= s.opts.BatchSize {
		return s.Flush()
	}
	return nil
}

// Flush writes all buffered rows in one transaction.
func (s *Sink) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("argus: sqlite sink: begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO records
		(ts, transport, src, dst, kind, class, msg_type, type_name, channel, stream, conn_id, body_len, meta_kind, meta_root, bin_kind, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("argus: sqlite sink: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range s.pending {
		if _, err := stmt.Exec(rowArgs(rec)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("argus: sqlite sink: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("argus: sqlite sink: commit: %w", err)
	}
	s.emitted.Add(uint64(len(s.pending)))
	s.pending = s.pending[:0]
	return nil
}

func (s *Sink) Stop() error {
	flushErr := s.Flush()
	if s.db != nil {
		if err := s.db.Close(); err != nil && flushErr == nil {
			flushErr = fmt.Errorf("argus: sqlite sink: close: %w", err)
		}
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"sink":    Name,
		"emitted": s.emitted.Load(),
	}).Info("sink stopped")
	return flushErr
}

func rowArgs(rec *sink.Record) []interface{} {
	detail, err := json.Marshal(rec)
	if err != nil {
		detail = []byte("{}")
	}

	var (
		class, typeName, stream, metaKind, metaRoot, binKind string
		msgType, channel                                     int64
		connID, bodyLen                                      int64
	)
	switch {
	case rec.Message != nil:
		m := rec.Message
		class, typeName, stream = m.Class, m.TypeName, m.Stream
		msgType, channel = int64(m.Type), int64(m.Channel)
		connID, bodyLen = int64(m.ConnID), int64(m.BodyLen)
		if m.Meta != nil {
			metaKind, metaRoot = m.Meta.Kind, m.Meta.XMLRoot
		}
		if m.Binary != nil {
			binKind = m.Binary.Kind
		}
	case rec.Discovery != nil:
		if rec.Discovery.Body != nil {
			metaKind, metaRoot = rec.Discovery.Body.Kind, rec.Discovery.Body.XMLRoot
		}
	case rec.Ack != nil:
		connID = int64(rec.Ack.ConnID)
	}

	return []interface{}{
		rec.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
		rec.Transport, rec.Src, rec.Dst, rec.Kind,
		class, msgType, typeName, channel, stream, connID, bodyLen,
		metaKind, metaRoot, binKind, string(detail),
	}
}
