// Package bus provides a sink that publishes records as JSON to a NATS
// JetStream subject, where the enricher picks them up.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// ModeHeader carries the record's cmcd_mode so consumers can filter without
// decoding the payload.
const ModeHeader = "Cmcd-Mode"

// Config holds configuration for the bus sink
type Config struct {
	Subject    string `json:"subject"               yaml:"subject"`
	SchemaFile string `json:"schema_file,omitempty" yaml:"schema_file,omitempty"`
}

// DefaultConfig returns default configuration for the bus sink
func DefaultConfig() Config {
	return Config{Subject: "cmcd.records"}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject is required")
	}
	return nil
}

// Publisher is satisfied by *natsclient.Client.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)
}

// Sink publishes records to JetStream and waits for the stream ack.
type Sink struct {
	js      Publisher
	subject string
	schema  *Schema
}

// New creates a bus sink. When cfg.SchemaFile is set, payloads are shaped
// to that schema before publishing.
func New(js Publisher, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Sink{js: js, subject: cfg.Subject}
	if cfg.SchemaFile != "" {
		schema, err := LoadSchema(cfg.SchemaFile)
		if err != nil {
			return nil, err
		}
		s.schema = schema
	}
	return s, nil
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "bus" }

// Deliver implements publisher.Sink. The ack ID is "stream:sequence".
func (s *Sink) Deliver(ctx context.Context, rec record.Record) (publisher.Ack, error) {
	var payload any = rec
	if s.schema != nil {
		payload = s.schema.Shape(rec)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return publisher.Ack{}, errors.WrapInvalid(err, "Sink", "Deliver", "encode record")
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	if mode, ok := rec.String(record.FieldMode); ok {
		msg.Header.Set(ModeHeader, mode)
	}

	ack, err := s.js.PublishMsg(ctx, msg)
	if err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "publish to "+s.subject)
	}
	return publisher.Ack{ID: fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)}, nil
}
