// Package record defines the canonical, transport-independent CMCD record
// delivered to every sink and consumed by the enricher.
package record

import (
	"fmt"
	"net/url"
	"time"

	"github.com/qualabs/cmcd-toolkit/cmcd"
	"github.com/qualabs/cmcd-toolkit/pkg/timestamp"
)

// Mode tags which ingestion endpoint produced a record.
type Mode string

// Supported modes
const (
	ModeEvent    Mode = "event"
	ModeResponse Mode = "response"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeEvent || m == ModeResponse
}

// Field names shared by the collector, the sinks and the enricher.
const (
	FieldUserAgent = "request_user_agent"
	FieldOrigin    = "request_origin"
	FieldIP        = "request_ip"
	FieldDatetime  = "request_datetime"
	FieldMode      = "cmcd_mode"
	FieldData      = "cmcd_data"
	FieldKeyPrefix = "cmcd_key_"
	FieldTSDate    = "cmcd_key_ts_date"
	FieldURLDomain = "cmcd_key_url_domain"
	keyTimestamp   = "ts"
	keyURL         = "url"
)

// Record is a flat mapping from field name to a scalar value (string,
// number, bool or nil).
type Record map[string]any

// RequestMeta carries the request attributes copied into every record built
// from one HTTP call. Empty strings become nil fields.
type RequestMeta struct {
	UserAgent  string
	Origin     string
	IP         string
	ReceivedAt time.Time
}

// FormatTimestamp renders t as ISO-8601 in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return timestamp.Format(t)
}

// Build creates the canonical record for one CMCD object. raw is the exact
// encoding the object arrived in.
func Build(keys cmcd.Keys, raw string, meta RequestMeta, mode Mode) Record {
	rec := Record{
		FieldUserAgent: nullable(meta.UserAgent),
		FieldOrigin:    nullable(meta.Origin),
		FieldIP:        nullable(meta.IP),
		FieldDatetime:  FormatTimestamp(meta.ReceivedAt),
		FieldMode:      string(mode),
		FieldData:      raw,
	}

	for key, value := range keys {
		rec[FieldKeyPrefix+key] = value
	}

	// Derived fields own their names; a CMCD key spelled ts_date or
	// url_domain never survives under them.
	delete(rec, FieldTSDate)
	delete(rec, FieldURLDomain)
	if value, ok := keys[keyTimestamp]; ok {
		if ms, ok := cmcd.Float(value); ok {
			if date, ok := timestamp.FormatMillis(ms); ok {
				rec[FieldTSDate] = date
			}
		}
	}
	if value, ok := keys[keyURL]; ok {
		rec[FieldURLDomain] = urlDomain(value)
	}

	return rec
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func urlDomain(value any) any {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return u.Hostname()
}

// String returns the string value of field, if present and a string.
func (r Record) String(field string) (string, bool) {
	s, ok := r[field].(string)
	return s, ok
}

// SetIfPresent writes value under field unless value is nil, an empty
// string or an integer zero. Floats are always written since 0 is a valid
// coordinate. It reports whether anything was written.
func (r Record) SetIfPresent(field string, value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		if v == "" {
			return false
		}
	case uint, uint64, int, int64:
		if fmt.Sprint(v) == "0" {
			return false
		}
	}
	r[field] = value
	return true
}

// Delete removes each named field. Absent names are ignored.
func (r Record) Delete(fields ...string) {
	for _, f := range fields {
		delete(r, f)
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
