package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qualabs/cmcd-toolkit/cmcd"
)

func TestBuild(t *testing.T) {
	received := time.Date(2025, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	meta := RequestMeta{
		UserAgent:  "Mozilla/5.0",
		Origin:     "https://player.example.com",
		IP:         "203.0.113.7",
		ReceivedAt: received,
	}

	rec := Build(cmcd.Parse("br=2000,sf=h,ts=1678886401000"), "br=2000,sf=h,ts=1678886401000", meta, ModeResponse)

	assert.Equal(t, "Mozilla/5.0", rec[FieldUserAgent])
	assert.Equal(t, "https://player.example.com", rec[FieldOrigin])
	assert.Equal(t, "203.0.113.7", rec[FieldIP])
	assert.Equal(t, "2025-03-01T10:00:00.123Z", rec[FieldDatetime])
	assert.Equal(t, "response", rec[FieldMode])
	assert.Equal(t, "br=2000,sf=h,ts=1678886401000", rec[FieldData])
	assert.Equal(t, int64(2000), rec["cmcd_key_br"])
	assert.Equal(t, "h", rec["cmcd_key_sf"])
	assert.Equal(t, int64(1678886401000), rec["cmcd_key_ts"])
	assert.Equal(t, "2023-03-15T13:20:01.000Z", rec[FieldTSDate])
}

func TestBuild_MissingMetaIsNull(t *testing.T) {
	rec := Build(cmcd.Keys{"br": int64(1)}, "br=1", RequestMeta{}, ModeEvent)

	for _, field := range []string{FieldUserAgent, FieldOrigin, FieldIP} {
		v, ok := rec[field]
		assert.True(t, ok, field)
		assert.Nil(t, v, field)
	}
	assert.Equal(t, "event", rec[FieldMode])
}

func TestBuild_TimestampDate(t *testing.T) {
	tests := []struct {
		name    string
		keys    cmcd.Keys
		present bool
	}{
		{"integer ts", cmcd.Keys{"ts": int64(1678886400000)}, true},
		{"float ts", cmcd.Keys{"ts": 1678886400000.0}, true},
		{"string ts", cmcd.Keys{"ts": "yesterday"}, false},
		{"no ts", cmcd.Keys{"br": int64(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Build(tt.keys, "", RequestMeta{}, ModeEvent)
			_, ok := rec[FieldTSDate]
			assert.Equal(t, tt.present, ok)
			if tt.present {
				assert.Equal(t, "2023-03-15T13:20:00.000Z", rec[FieldTSDate])
			}
		})
	}
}

func TestBuild_URLDomain(t *testing.T) {
	rec := Build(cmcd.Keys{"url": "https://cdn.example.com/seg/1.m4s"}, "", RequestMeta{}, ModeEvent)
	assert.Equal(t, "cdn.example.com", rec[FieldURLDomain])

	rec = Build(cmcd.Keys{"url": "not a url"}, "", RequestMeta{}, ModeEvent)
	v, ok := rec[FieldURLDomain]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestBuild_DerivedFieldsOwnTheirNames(t *testing.T) {
	keys := cmcd.Keys{"ts": int64(1678886401000), "ts_date": "x", "url_domain": "y"}
	for range 50 {
		rec := Build(keys, "", RequestMeta{}, ModeEvent)
		assert.Equal(t, "2023-03-15T13:20:01.000Z", rec[FieldTSDate])
		assert.NotContains(t, rec, FieldURLDomain, "no url key, no url_domain")
	}

	rec := Build(cmcd.Keys{"ts_date": "x"}, "", RequestMeta{}, ModeEvent)
	assert.NotContains(t, rec, FieldTSDate, "ts_date requires a numeric ts")

	rec = Build(cmcd.Keys{"url": "https://cdn.example.com/a", "url_domain": "y"}, "", RequestMeta{}, ModeEvent)
	assert.Equal(t, "cdn.example.com", rec[FieldURLDomain])
}

func TestRecord_SetIfPresent(t *testing.T) {
	rec := Record{"a": "keep"}

	assert.False(t, rec.SetIfPresent("a", ""))
	assert.False(t, rec.SetIfPresent("b", nil))
	assert.False(t, rec.SetIfPresent("c", uint(0)))
	assert.True(t, rec.SetIfPresent("d", uint(15169)))
	assert.True(t, rec.SetIfPresent("e", 51.5))
	assert.True(t, rec.SetIfPresent("f", 0.0), "zero coordinates are real values")

	assert.Equal(t, Record{"a": "keep", "d": uint(15169), "e": 51.5, "f": 0.0}, rec)
}

func TestRecord_Delete(t *testing.T) {
	rec := Record{"a": 1, "b": 2}
	rec.Delete("a", "missing")
	assert.Equal(t, Record{"b": 2}, rec)
}

func TestMode_Valid(t *testing.T) {
	assert.True(t, ModeEvent.Valid())
	assert.True(t, ModeResponse.Valid())
	assert.False(t, Mode("other").Valid())
}
