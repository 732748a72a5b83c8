// Package file provides a sink that appends records to a local file for a
// log collector to pick up.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Config holds configuration for the file sink
type Config struct {
	Directory     string        `json:"directory"      yaml:"directory"`
	FilePrefix    string        `json:"file_prefix"    yaml:"file_prefix"`
	Format        string        `json:"format"         yaml:"format"`
	Append        bool          `json:"append"         yaml:"append"`
	BufferSize    int           `json:"buffer_size"    yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.Format != "json" && c.Format != "jsonl" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Directory:     "/var/log/cmcd",
		FilePrefix:    "cmcd",
		Format:        "jsonl",
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Sink buffers encoded records and writes them to one file. A full buffer
// is flushed inline; a background loop flushes whatever is left on every
// FlushInterval.
type Sink struct {
	path       string
	format     string
	bufferSize int
	logger     *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New opens the output file and starts the flush loop.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "cmcd"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Sink", "New", "create output directory")
	}

	path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format))
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Sink", "New", "open output file")
	}

	s := &Sink{
		path:       path,
		format:     cfg.Format,
		bufferSize: cfg.BufferSize,
		logger:     logger.With("component", "file-sink", "path", path),
		file:       f,
		buffer:     make([][]byte, 0, cfg.BufferSize),
		shutdown:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop(cfg.FlushInterval)

	s.logger.Info("File sink started", "format", cfg.Format, "append", cfg.Append, "buffer_size", cfg.BufferSize)
	return s, nil
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "file" }

// Path returns the output file path.
func (s *Sink) Path() string { return s.path }

// Deliver implements publisher.Sink
func (s *Sink) Deliver(_ context.Context, rec record.Record) (publisher.Ack, error) {
	var (
		data []byte
		err  error
	)
	if s.format == "json" {
		data, err = json.MarshalIndent(rec, "", "  ")
	} else {
		data, err = json.Marshal(rec)
	}
	if err != nil {
		return publisher.Ack{}, errors.WrapInvalid(err, "Sink", "Deliver", "encode record")
	}

	select {
	case <-s.shutdown:
		return publisher.Ack{}, errors.WrapFatal(errors.ErrNotStarted, "Sink", "Deliver", "write to closed sink")
	default:
	}

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, data)
	shouldFlush := len(s.buffer) >= s.bufferSize
	s.bufferMu.Unlock()

	if shouldFlush {
		if err := s.flush(); err != nil {
			return publisher.Ack{}, err
		}
	}
	return publisher.Ack{}, nil
}

func (s *Sink) flushLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}

// Flush writes buffered records to the file.
func (s *Sink) Flush() error {
	return s.flush()
}

func (s *Sink) flush() error {
	s.bufferMu.Lock()
	if len(s.buffer) == 0 {
		s.bufferMu.Unlock()
		return nil
	}
	pending := s.buffer
	s.buffer = make([][]byte, 0, s.bufferSize)
	s.bufferMu.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.file == nil {
		s.logger.Error("File handle is nil during flush", "records_lost", len(pending))
		return errors.WrapFatal(errors.ErrNotStarted, "Sink", "flush", "write records")
	}

	for i, data := range pending {
		if _, err := s.file.Write(append(data, '\n')); err != nil {
			s.logger.Error("Failed to write record", "error", err, "records_lost", len(pending)-i)
			return errors.WrapTransient(err, "Sink", "flush", "write record")
		}
	}
	s.logger.Debug("Flushed records", "count", len(pending))
	return nil
}

// Close stops the flush loop, writes what is buffered and closes the file.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()

		err = s.flush()

		s.fileMu.Lock()
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = errors.WrapTransient(cerr, "Sink", "Close", "close output file")
		}
		s.file = nil
		s.fileMu.Unlock()
	})
	return err
}
