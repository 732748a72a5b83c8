package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// Sample payloads in each collector transport. They all carry the same
// three keys: br=3200, bs and sid="6e2fb550".
const (
	SampleQuery = `br=3200,bs,sid="6e2fb550"`
	SampleText  = `br=3200,bs,sid="6e2fb550"`
	SampleJSON  = `{"br":3200,"bs":true,"sid":"6e2fb550"}`

	// SampleBatch is a JSON array of two event-mode objects
	SampleBatch = `[{"e":"ps","sta":"p","ts":1700000000000},{"e":"ps","sta":"w","ts":1700000001000}]`
)

// QueryRequest builds a GET request carrying payload in the CMCD query
// parameter.
func QueryRequest(target, payload string) *http.Request {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return httptest.NewRequest(http.MethodGet, target+sep+"CMCD="+url.QueryEscape(payload), nil)
}

// BodyRequest builds a POST request with the given content type
func BodyRequest(target, contentType, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	return r
}

// JSONRequest builds a POST request with an application/json body
func JSONRequest(target, body string) *http.Request {
	return BodyRequest(target, "application/json", body)
}

// TextRequest builds a POST request with a text/cmcd body
func TextRequest(target, body string) *http.Request {
	return BodyRequest(target, "text/cmcd", body)
}

// FreeAddr returns a loopback address with a port that was free when
// checked.
func FreeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}
