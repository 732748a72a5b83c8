// Package warehouse provides a sink that streams each record as one row into
// a BigQuery table.
package warehouse

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Config holds configuration for the BigQuery sink
type Config struct {
	ProjectID           string `json:"project_id"                 yaml:"project_id"`
	Dataset             string `json:"dataset"                    yaml:"dataset"`
	Table               string `json:"table"                      yaml:"table"`
	CredentialsFile     string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	Endpoint            string `json:"endpoint,omitempty"         yaml:"endpoint,omitempty"`
	IgnoreUnknownValues bool   `json:"ignore_unknown_values"      yaml:"ignore_unknown_values"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	switch {
	case c.ProjectID == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "project_id is required")
	case c.Dataset == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "dataset is required")
	case c.Table == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "table is required")
	}
	return nil
}

// Inserter is satisfied by *bigquery.Inserter.
type Inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// Sink streams records into BigQuery.
type Sink struct {
	inserter Inserter
	client   *bigquery.Client
}

// New connects to BigQuery using application default credentials unless a
// credentials file is configured.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Sink", "New", "create BigQuery client")
	}

	inserter := client.Dataset(cfg.Dataset).Table(cfg.Table).Inserter()
	inserter.IgnoreUnknownValues = cfg.IgnoreUnknownValues

	return &Sink{inserter: inserter, client: client}, nil
}

// NewWithInserter wraps an existing inserter.
func NewWithInserter(inserter Inserter) *Sink {
	return &Sink{inserter: inserter}
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "warehouse" }

// Deliver implements publisher.Sink. The row carries a fresh insert ID so
// BigQuery can drop duplicates of the same streaming insert.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) (publisher.Ack, error) {
	r := row{rec: rec, insertID: uuid.NewString()}
	if err := s.inserter.Put(ctx, r); err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "insert row")
	}
	return publisher.Ack{ID: r.insertID}, nil
}

// Close releases the BigQuery client.
func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	return errors.WrapTransient(s.client.Close(), "Sink", "Close", "close BigQuery client")
}

// row adapts a record to bigquery.ValueSaver. Nil fields are left out so
// the column takes its NULL default.
type row struct {
	rec      record.Record
	insertID string
}

// Save implements bigquery.ValueSaver
func (r row) Save() (map[string]bigquery.Value, string, error) {
	values := make(map[string]bigquery.Value, len(r.rec))
	for k, v := range r.rec {
		if v == nil {
			continue
		}
		values[k] = v
	}
	return values, r.insertID, nil
}
