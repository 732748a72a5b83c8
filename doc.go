// Package cmcdtoolkit collects Common Media Client Data (CMCD, CTA-5004)
// telemetry from media players, normalizes it into flat records and fans
// those records out to analytics sinks. An optional enricher consumes
// records from the bus and adds geo and user-agent attributes.
//
// # Architecture
//
//	 players
//	    │  GET ?CMCD=…  /  POST text/cmcd  /  POST application/json
//	    ↓
//	┌─────────────────────────────────────┐
//	│  collector  /cmcd/event-mode        │  CORS, body limit,
//	│             /cmcd/response-mode     │  transport detection
//	└─────────────────────────────────────┘
//	    │  cmcd.Parse → record.Build
//	    ↓
//	┌─────────────────────────────────────┐
//	│  publisher  (errgroup fan-out)      │  one attempt per sink,
//	└─────────────────────────────────────┘  per-sink timeout
//	    │
//	    ├──→ warehouse  (BigQuery streaming insert)
//	    ├──→ bus        (NATS JetStream, cmcd.records)
//	    ├──→ fluent     (Fluentd forward)
//	    ├──→ file       (JSON Lines)
//	    ├──→ queue      (Redis list, msgpack)
//	    └──→ httppost   (webhook)
//
//	 bus: cmcd.records
//	    ↓  durable pull consumer, worker pool
//	┌─────────────────────────────────────┐
//	│  processor/enrich                   │  geo (GeoLite2, cached per IP),
//	│                                     │  user agent, denylist
//	└─────────────────────────────────────┘
//	    ↓
//	 bus: cmcd.enriched
//
// A request succeeds (204) when every produced record reached at least one
// sink. Records that reach no sink fail the request with 500.
//
// # Packages
//
//	cmcd                 CMCD tokenizer and JSON value normalization
//	record               canonical record and field names
//	collector            HTTP ingestion handler and server
//	publisher            concurrent fan-out to sinks
//	output/*             sink implementations
//	processor/enrich     bus enricher
//	natsclient           NATS connection, JetStream and object store access
//	storage/objectstore  GeoLite2 database download (NATS, S3, local)
//	config               layered JSON/YAML configuration
//	metric               Prometheus metrics and the /metrics, /health server
//	health               component health aggregation
//	errors               classified errors (transient, invalid, fatal)
//	pkg/*                retry, worker pool, LRU cache, TLS and timestamp helpers
//	testutil             test fixtures and the NATS container helper
//
// The cmcdstreams binary in cmd/cmcdstreams wires these together from a
// configuration file.
package cmcdtoolkit
