// Package config loads the collector and enricher configuration.
//
// A configuration file is JSON or YAML (chosen by extension; both are decoded
// with gopkg.in/yaml.v3, of which JSON is a subset). Every file is decoded
// over Default(), so a file only needs the fields it changes. Unknown fields
// are rejected.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Sections
//
//	platform   instance identity
//	nats       connection, credentials, TLS and the records stream
//	metrics    Prometheus endpoint
//	collector  HTTP ingestion (enabled flag plus collector.Config)
//	publisher  fan-out timeout and concurrency
//	sinks      warehouse, bus, fluent, file, queue, httppost; each with enabled
//	enricher   bus enricher (enabled flag plus enrich.Config)
//
// # Environment Overrides
//
// Applied after all layers:
//
//	CMCD_PLATFORM_ID
//	CMCD_NATS_URLS       comma separated
//	CMCD_NATS_USERNAME
//	CMCD_NATS_PASSWORD
//	CMCD_NATS_TOKEN
//	CMCD_LISTEN_ADDR     collector listen address
//
// Validation only checks enabled sections, and fails with an error
// classified as invalid.
package config
