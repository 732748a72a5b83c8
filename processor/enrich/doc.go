// Package enrich consumes canonical CMCD records from the bus, augments them
// with geolocation and user-agent attributes, strips denylisted fields and
// republishes them.
//
// # Stages
//
// Each message runs through up to three stages:
//
//   - geo: request_ip is looked up in the GeoLite2 city and ASN databases,
//     when loaded. A miss is logged and leaves the record untouched.
//   - user agent: request_user_agent is classified into browser, engine, OS,
//     device and CPU attributes when enabled.
//   - filter: every field named in the denylist is removed.
//
// Only non-empty values are written; existing fields are never overwritten
// with empty ones.
//
// # Geo databases
//
// The databases are downloaded from an object store (NATS JetStream object
// store, S3, or a local directory) into a scratch directory and opened on
// first use. Concurrent first messages share a single load. A failed load is
// not remembered: the triggering message is nak'd and the next message tries
// again.
//
// # Acknowledgement
//
//	Handle == nil  -> Ack (published, or dropped as unparseable)
//	Handle != nil  -> Nak (geo init or republish failed)
//	queue full     -> Nak
package enrich
