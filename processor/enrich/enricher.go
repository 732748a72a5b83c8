package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/output/bus"
	"github.com/qualabs/cmcd-toolkit/pkg/cache"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Geo fields written by the geo stage
const (
	FieldCountryCode     = "request_country_code"
	FieldCountryName     = "request_country_name"
	FieldCityName        = "request_city_name"
	FieldPostalCode      = "request_postal_code"
	FieldLatitude        = "request_latitude"
	FieldLongitude       = "request_longitude"
	FieldASNNumber       = "request_asn_number"
	FieldASNOrganization = "request_asn_organization"
)

// Enrich outcomes reported to metrics
const (
	resultPublished = "published"
	resultDropped   = "dropped"
	resultFailed    = "failed"
)

// Publisher is satisfied by *natsclient.Client.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) (*jetstream.PubAck, error)
}

// Enricher augments published records with geo and user-agent attributes
// and republishes them.
type Enricher struct {
	cfg     Config
	pub     Publisher
	loader  Loader
	geo     *geoHandle
	cache   *cache.Cache[geoResult]
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures an Enricher
type Option func(*Enricher)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

// WithLoader sets the geo database loader. Without one the geo stage is
// skipped.
func WithLoader(l Loader) Option {
	return func(e *Enricher) { e.loader = l }
}

// New creates an Enricher publishing to cfg.OutputSubject
func New(cfg Config, pub Publisher, opts ...Option) (*Enricher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Enricher", "New", "publisher required")
	}

	e := &Enricher{
		cfg:    cfg,
		pub:    pub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.geo = newGeoHandle(e.loader, cfg.Geo.InitTimeout, e.metrics, e.logger)

	if e.loader != nil && cfg.Geo.CacheSize > 0 {
		c, err := cache.New(cfg.Geo.CacheSize, cfg.Geo.CacheTTL, cache.WithMetrics[geoResult](e.metrics, "geo"))
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

// Init loads the geo databases unless they are already loaded. Concurrent
// callers share one load; a failed load is retried by the next call.
func (e *Enricher) Init(ctx context.Context) error {
	_, err := e.geo.get(ctx)
	return err
}

// State reports the geo database lifecycle state
func (e *Enricher) State() State {
	return e.geo.State()
}

// Handle enriches one bus payload. A nil return means the message is
// consumed, including payloads that are dropped as unparseable. An error
// means the message should be redelivered.
func (e *Enricher) Handle(ctx context.Context, payload []byte) error {
	dbs, err := e.geo.get(ctx)
	if err != nil {
		e.metrics.RecordEnrich(resultFailed)
		e.logger.Error("Geo initialization failed, aborting message", "component", "enricher", "error", err)
		return err
	}

	rec, err := decodeRecord(payload)
	if err != nil {
		e.metrics.RecordEnrich(resultDropped)
		e.logger.Error("Failed to parse bus message", "component", "enricher", "size_bytes", len(payload), "error", err)
		return nil
	}

	e.Enrich(rec, dbs)

	data, err := json.Marshal(rec)
	if err != nil {
		e.metrics.RecordEnrich(resultDropped)
		e.logger.Error("Failed to encode enriched record", "component", "enricher", "error", err)
		return nil
	}

	msg := nats.NewMsg(e.cfg.OutputSubject)
	msg.Data = data
	if mode, ok := rec.String(record.FieldMode); ok {
		msg.Header.Set(bus.ModeHeader, mode)
	}

	if _, err := e.pub.PublishMsg(ctx, msg); err != nil {
		e.metrics.RecordEnrich(resultFailed)
		e.logger.Error("Failed to publish enriched message",
			"component", "enricher",
			"subject", e.cfg.OutputSubject,
			"error", err)
		return errors.WrapTransient(err, "Enricher", "Handle", "publish to "+e.cfg.OutputSubject)
	}

	e.metrics.RecordEnrich(resultPublished)
	return nil
}

// Enrich runs the geo, user-agent and filter stages on rec in place. dbs may
// be nil.
func (e *Enricher) Enrich(rec record.Record, dbs *Databases) {
	e.geoStage(rec, dbs)

	if e.cfg.UserAgent {
		if ua, ok := rec.String(record.FieldUserAgent); ok && ua != "" {
			ParseUserAgent(ua).apply(rec)
		}
	}

	if len(e.cfg.Denylist) > 0 {
		rec.Delete(e.cfg.Denylist...)
	}
}

// geoResult is the outcome of both database lookups for one address
type geoResult struct {
	Location Location
	CityHit  bool
	Network  Network
	ASNHit   bool
}

func (e *Enricher) geoStage(rec record.Record, dbs *Databases) {
	if dbs == nil || (dbs.City == nil && dbs.ASN == nil) {
		return
	}

	raw, _ := rec.String(record.FieldIP)
	ip := net.ParseIP(raw)
	if ip == nil {
		e.logger.Warn("Record has no usable client IP", "component", "enricher", "request_ip", rec[record.FieldIP])
		return
	}

	res := e.lookup(dbs, ip)

	if res.CityHit {
		loc := res.Location
		rec.SetIfPresent(FieldCountryCode, loc.CountryCode)
		rec.SetIfPresent(FieldCountryName, loc.CountryName)
		rec.SetIfPresent(FieldCityName, loc.CityName)
		rec.SetIfPresent(FieldPostalCode, loc.PostalCode)
		if loc.Coordinates {
			rec[FieldLatitude] = loc.Latitude
			rec[FieldLongitude] = loc.Longitude
		}
	}
	if res.ASNHit {
		rec.SetIfPresent(FieldASNNumber, res.Network.Number)
		rec.SetIfPresent(FieldASNOrganization, res.Network.Organization)
	}
}

// lookup queries both databases, memoizing results per address. Lookups
// that failed with an error are not cached.
func (e *Enricher) lookup(dbs *Databases, ip net.IP) geoResult {
	key := ip.String()
	if e.cache != nil {
		if res, ok := e.cache.Get(key); ok {
			if dbs.City != nil && !res.CityHit {
				e.logger.Warn("IP address not found in city database", "component", "enricher", "request_ip", key, "cached", true)
			}
			if dbs.ASN != nil && !res.ASNHit {
				e.logger.Warn("IP address not found in ASN database", "component", "enricher", "request_ip", key, "cached", true)
			}
			return res
		}
	}

	var res geoResult
	failed := false

	if dbs.City != nil {
		loc, ok, err := dbs.City.LookupCity(ip)
		e.metrics.RecordGeoLookup("city", ok)
		switch {
		case err != nil:
			failed = true
			e.logger.Warn("City lookup failed", "component", "enricher", "request_ip", key, "error", err)
		case !ok:
			e.logger.Warn("IP address not found in city database", "component", "enricher", "request_ip", key)
		default:
			res.Location, res.CityHit = loc, true
		}
	}

	if dbs.ASN != nil {
		n, ok, err := dbs.ASN.LookupASN(ip)
		e.metrics.RecordGeoLookup("asn", ok)
		switch {
		case err != nil:
			failed = true
			e.logger.Warn("ASN lookup failed", "component", "enricher", "request_ip", key, "error", err)
		case !ok:
			e.logger.Warn("IP address not found in ASN database", "component", "enricher", "request_ip", key)
		default:
			res.Network, res.ASNHit = n, true
		}
	}

	if e.cache != nil && !failed {
		_, _ = e.cache.Set(key, res)
	}
	return res
}

// Close releases the geo databases
func (e *Enricher) Close() error {
	return e.geo.close()
}

// decodeRecord parses exactly one JSON object. Values wrapped by a bus
// schema are unwrapped so the stages see plain fields.
func decodeRecord(payload []byte) (record.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var rec record.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.WrapInvalid(err, "Enricher", "decodeRecord", "decode payload")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "Enricher", "decodeRecord", "check trailing data")
	}
	if rec == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "Enricher", "decodeRecord", "check payload")
	}
	bus.Unwrap(rec)
	return rec, nil
}
