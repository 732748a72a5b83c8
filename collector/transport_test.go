package collector

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/cmcd"
	"github.com/qualabs/cmcd-toolkit/errors"
)

func newRequest(method, target, contentType, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestDetectTransport(t *testing.T) {
	tests := []struct {
		contentType string
		want        Transport
	}{
		{"application/json", TransportJSON},
		{"application/json; charset=utf-8", TransportJSON},
		{"Application/JSON", TransportJSON},
		{"application/cmcd+text", TransportText},
		{"text/cmcd; charset=utf-8", TransportText},
		{"text/plain", TransportQuery},
		{"", TransportQuery},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTransport(tt.contentType))
		})
	}
	assert.Equal(t, "json", TransportJSON.String())
	assert.Equal(t, "unknown", Transport(42).String())
}

func TestNormalize_JSONArray(t *testing.T) {
	r := newRequest(http.MethodPost, "/cmcd/event-mode", "application/json",
		`[{"br":3200,"sid":"abc"}, {"bl":2100}]`)

	objects, err := Normalize(r, readBody(t, r), "")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	assert.Equal(t, cmcd.Keys{"br": int64(3200), "sid": "abc"}, objects[0].Keys)
	assert.Equal(t, `{"br":3200,"sid":"abc"}`, objects[0].Raw)
	assert.Equal(t, cmcd.Keys{"bl": int64(2100)}, objects[1].Keys)
	assert.Equal(t, `{"bl":2100}`, objects[1].Raw)
}

func TestNormalize_JSONObject(t *testing.T) {
	r := newRequest(http.MethodPost, "/", "application/json", ` {"mtp": 25400.5, "bs": true} `)

	objects, err := Normalize(r, readBody(t, r), "")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, cmcd.Keys{"mtp": 25400.5, "bs": true}, objects[0].Keys)
	assert.Equal(t, `{"mtp":25400.5,"bs":true}`, objects[0].Raw)
}

func TestNormalize_JSONBoundary(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		count   int
	}{
		{"empty array", `[]`, errors.ErrEmptyPayload, 0},
		{"empty object", `{}`, errors.ErrEmptyPayload, 0},
		{"empty body", ``, errors.ErrEmptyPayload, 0},
		{"null", `null`, errors.ErrInvalidPayload, 0},
		{"string", `"br=1"`, errors.ErrInvalidPayload, 0},
		{"number", `42`, errors.ErrInvalidPayload, 0},
		{"malformed", `{"br":`, errors.ErrInvalidPayload, 0},
		{"trailing data", `{"br":1} {"br":2}`, errors.ErrInvalidPayload, 0},
		{"array of empty objects", `[{}, {}]`, nil, 0},
		{"array of scalars", `[1, "x", null]`, nil, 0},
		{"mixed array", `[{}, {"br":1}, 7]`, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(http.MethodPost, "/", "application/json", tt.body)
			objects, err := Normalize(r, readBody(t, r), "")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, objects, tt.count)
		})
	}
}

func TestNormalize_Text(t *testing.T) {
	body := "br=3200,sid=\"abc\"\r\n\n   \nbl=2100%2Cbs\ninvalid-token-only\n"
	r := newRequest(http.MethodPost, "/", "application/cmcd+text", body)

	objects, err := Normalize(r, readBody(t, r), "")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	assert.Equal(t, cmcd.Keys{"br": int64(3200), "sid": "abc"}, objects[0].Keys)
	assert.Equal(t, `br=3200,sid="abc"`, objects[0].Raw)
	assert.Equal(t, cmcd.Keys{"bl": int64(2100), "bs": true}, objects[1].Keys)
	assert.Equal(t, "bl=2100%2Cbs", objects[1].Raw)
}

func TestNormalize_TextUndecodableLine(t *testing.T) {
	r := newRequest(http.MethodPost, "/", "text/cmcd", "sid=\"50%\",br=100")

	objects, err := Normalize(r, readBody(t, r), "")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, cmcd.Keys{"sid": "50%", "br": int64(100)}, objects[0].Keys)
}

func TestNormalize_Query(t *testing.T) {
	r := newRequest(http.MethodGet, "/cmcd/response-mode?CMCD=br%3D3200%2Cbs%2Cot%3Dv", "", "")

	objects, err := Normalize(r, nil, "")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, cmcd.Keys{"br": int64(3200), "bs": true, "ot": "v"}, objects[0].Keys)
	assert.Equal(t, "br=3200,bs,ot=v", objects[0].Raw)
}

func TestNormalize_QueryCustomParam(t *testing.T) {
	r := newRequest(http.MethodGet, "/?cmcd=br%3D1", "", "")

	objects, err := Normalize(r, nil, "cmcd")
	require.NoError(t, err)
	require.Len(t, objects, 1)

	objects, err = Normalize(r, nil, "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestNormalize_QueryAbsentOrEmpty(t *testing.T) {
	for _, target := range []string{"/", "/?CMCD=", "/?CMCD=%3D%3D%3D"} {
		r := newRequest(http.MethodGet, target, "", "")
		objects, err := Normalize(r, nil, "")
		require.NoError(t, err, target)
		assert.Empty(t, objects, target)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")

	assert.Equal(t, "10.0.0.1", clientIP(r, false))
	assert.Equal(t, "203.0.113.7", clientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.1", clientIP(r, true))

	r.RemoteAddr = "not-an-address"
	assert.Equal(t, "not-an-address", clientIP(r, false))
}

func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return data
}
