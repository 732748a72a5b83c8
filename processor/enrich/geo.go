package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/sync/singleflight"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/pkg/retry"
	"github.com/qualabs/cmcd-toolkit/storage/objectstore"
)

// Location is the subset of a city database entry the enricher writes
type Location struct {
	CountryCode string
	CountryName string
	CityName    string
	PostalCode  string
	Latitude    float64
	Longitude   float64
	// Coordinates is set when the entry carries a position, so that 0 is
	// told apart from missing.
	Coordinates bool
}

// Network is the subset of an ASN database entry the enricher writes
type Network struct {
	Number       uint
	Organization string
}

// CityDB resolves an IP to a location. ok is false when the IP is unknown.
type CityDB interface {
	LookupCity(ip net.IP) (loc Location, ok bool, err error)
}

// ASNDB resolves an IP to its autonomous system.
type ASNDB interface {
	LookupASN(ip net.IP) (n Network, ok bool, err error)
}

// Databases holds whichever geo databases were loaded. Either may be nil.
type Databases struct {
	City CityDB
	ASN  ASNDB

	closers []func() error
}

// Close releases the underlying readers
func (d *Databases) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Loader produces the geo databases. It is called at most once per
// successful initialization.
type Loader interface {
	Load(ctx context.Context) (*Databases, error)
}

type cityReader struct{ r *geoip2.Reader }

func (c cityReader) LookupCity(ip net.IP) (Location, bool, error) {
	rec, err := c.r.City(ip)
	if err != nil {
		return Location{}, false, err
	}
	loc := Location{
		CountryCode: rec.Country.IsoCode,
		CountryName: rec.Country.Names["en"],
		CityName:    rec.City.Names["en"],
		PostalCode:  rec.Postal.Code,
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
		Coordinates: rec.Location.AccuracyRadius > 0 ||
			rec.Location.Latitude != 0 || rec.Location.Longitude != 0,
	}
	return loc, loc != Location{}, nil
}

type asnReader struct{ r *geoip2.Reader }

func (a asnReader) LookupASN(ip net.IP) (Network, bool, error) {
	rec, err := a.r.ASN(ip)
	if err != nil {
		return Network{}, false, err
	}
	n := Network{
		Number:       rec.AutonomousSystemNumber,
		Organization: rec.AutonomousSystemOrganization,
	}
	return n, n != Network{}, nil
}

// GeoLoader downloads the configured GeoLite2 files into a local directory
// and opens them.
type GeoLoader struct {
	downloader objectstore.Downloader
	cfg        GeoConfig
	logger     *slog.Logger
}

// NewGeoLoader creates a loader reading from downloader
func NewGeoLoader(downloader objectstore.Downloader, cfg GeoConfig, logger *slog.Logger) *GeoLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoLoader{downloader: downloader, cfg: cfg, logger: logger}
}

// Load implements Loader
func (l *GeoLoader) Load(ctx context.Context) (*Databases, error) {
	dbs := &Databases{}

	if l.cfg.CityKey != "" {
		r, err := l.fetch(ctx, l.cfg.CityKey)
		if err != nil {
			return nil, err
		}
		dbs.City = cityReader{r: r}
		dbs.closers = append(dbs.closers, r.Close)
	}

	if l.cfg.ASNKey != "" {
		r, err := l.fetch(ctx, l.cfg.ASNKey)
		if err != nil {
			_ = dbs.Close()
			return nil, err
		}
		dbs.ASN = asnReader{r: r}
		dbs.closers = append(dbs.closers, r.Close)
	}

	return dbs, nil
}

func (l *GeoLoader) fetch(ctx context.Context, key string) (*geoip2.Reader, error) {
	dest := filepath.Join(l.cfg.Dir, filepath.Base(key))

	l.logger.Info("Downloading geo database",
		"component", "geo-loader",
		"bucket", l.cfg.Bucket,
		"key", key,
		"dest", dest)

	err := retry.Do(ctx, l.cfg.Retry, func() error {
		err := l.downloader.Download(ctx, l.cfg.Bucket, key, dest)
		if errors.IsInvalid(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "GeoLoader", "fetch", fmt.Sprintf("download %s/%s", l.cfg.Bucket, key))
	}

	r, err := geoip2.Open(dest)
	if err != nil {
		return nil, errors.WrapTransient(err, "GeoLoader", "fetch", fmt.Sprintf("open %s", dest))
	}

	l.logger.Info("Geo database loaded", "component", "geo-loader", "key", key)
	return r, nil
}

// State is the lifecycle of the geo databases
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// geoHandle memoizes a Loader. Concurrent first callers share one in-flight
// load; a failed load is not cached and the next caller starts a new one.
type geoHandle struct {
	loader  Loader
	timeout time.Duration
	metrics *metric.Metrics
	logger  *slog.Logger

	group singleflight.Group
	state atomic.Int32

	mu  sync.RWMutex
	dbs *Databases
}

func newGeoHandle(loader Loader, timeout time.Duration, metrics *metric.Metrics, logger *slog.Logger) *geoHandle {
	h := &geoHandle{loader: loader, timeout: timeout, metrics: metrics, logger: logger}
	if loader == nil {
		h.state.Store(int32(StateReady))
	}
	return h
}

func (h *geoHandle) State() State {
	return State(h.state.Load())
}

func (h *geoHandle) get(ctx context.Context) (*Databases, error) {
	if h.loader == nil {
		return nil, nil
	}

	h.mu.RLock()
	dbs := h.dbs
	h.mu.RUnlock()
	if dbs != nil {
		return dbs, nil
	}

	v, err, _ := h.group.Do("geo", func() (any, error) {
		h.mu.RLock()
		loaded := h.dbs
		h.mu.RUnlock()
		if loaded != nil {
			return loaded, nil
		}

		h.state.Store(int32(StateInitializing))
		h.logger.Info("Geo databases not initialized, loading", "component", "enricher")

		// Shared by every waiting caller; detached from the first one's cancellation.
		loadCtx := context.WithoutCancel(ctx)
		if h.timeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, h.timeout)
			defer cancel()
		}

		loaded, err := h.loader.Load(loadCtx)
		h.metrics.RecordGeoInit(err)
		if err != nil {
			h.state.Store(int32(StateFailed))
			h.logger.Error("Geo database initialization failed", "component", "enricher", "error", err)
			return nil, err
		}

		h.mu.Lock()
		h.dbs = loaded
		h.mu.Unlock()
		h.state.Store(int32(StateReady))
		return loaded, nil
	})
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrGeoUnavailable, err),
			"Enricher", "Init", "load geo databases")
	}
	return v.(*Databases), nil
}

func (h *geoHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.dbs.Close()
	h.dbs = nil
	if h.loader != nil {
		h.state.Store(int32(StateUninitialized))
	}
	return err
}
