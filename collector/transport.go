// Package collector is the HTTP ingestion edge: it detects how a request
// carries CMCD data, turns every CMCD object into a canonical record and
// hands the batch to the publisher.
package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/qualabs/cmcd-toolkit/cmcd"
	"github.com/qualabs/cmcd-toolkit/errors"
)

// DefaultQueryParam is the query parameter carrying CMCD on GET requests.
const DefaultQueryParam = "CMCD"

// Object is one CMCD object found in a request together with the exact
// encoding it arrived in.
type Object struct {
	Keys cmcd.Keys
	Raw  string
}

// Transport is how a request carries CMCD data. It is selected once per
// request from the Content-Type header.
type Transport uint8

// Supported transports
const (
	TransportQuery Transport = iota
	TransportJSON
	TransportText
)

type decodeFunc func(r *http.Request, body []byte, queryParam string) ([]Object, error)

var transports = [...]struct {
	name   string
	decode decodeFunc
}{
	TransportQuery: {"query", decodeQuery},
	TransportJSON:  {"json", decodeJSON},
	TransportText:  {"text", decodeText},
}

// String returns the transport label used in logs and metrics.
func (t Transport) String() string {
	if int(t) < len(transports) {
		return transports[t].name
	}
	return "unknown"
}

// Decode extracts the CMCD objects of a request using this transport.
func (t Transport) Decode(r *http.Request, body []byte, queryParam string) ([]Object, error) {
	if int(t) >= len(transports) {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "Transport", "Decode", "select transport")
	}
	if queryParam == "" {
		queryParam = DefaultQueryParam
	}
	return transports[t].decode(r, body, queryParam)
}

// DetectTransport maps a Content-Type header value to a transport. Anything
// that is neither JSON nor CMCD text, including no content type, falls back
// to the query string.
func DetectTransport(contentType string) Transport {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "application/json"):
		return TransportJSON
	case strings.HasPrefix(ct, "application/cmcd+text"), strings.HasPrefix(ct, "text/cmcd"):
		return TransportText
	default:
		return TransportQuery
	}
}

// Normalize returns every CMCD object carried by r. body is the already read
// request body. JSON bodies that are empty or not an object or array fail
// with ErrEmptyPayload or ErrInvalidPayload; the other transports never fail.
func Normalize(r *http.Request, body []byte, queryParam string) ([]Object, error) {
	return DetectTransport(r.Header.Get("Content-Type")).Decode(r, body, queryParam)
}

func decodeJSON(_ *http.Request, body []byte, _ string) ([]Object, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyPayload, "collector", "decodeJSON", "read JSON body")
	}

	var elements []json.RawMessage
	switch trimmed[0] {
	case '{':
		elements = []json.RawMessage{trimmed}
	case '[':
		if err := strictUnmarshal(trimmed, &elements); err != nil {
			return nil, errors.WrapInvalid(errors.Join(errors.ErrInvalidPayload, err), "collector", "decodeJSON", "decode JSON array")
		}
		if len(elements) == 0 {
			return nil, errors.WrapInvalid(errors.ErrEmptyPayload, "collector", "decodeJSON", "decode JSON array")
		}
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload, "collector", "decodeJSON", "JSON body must be an object or array")
	}

	objects := make([]Object, 0, len(elements))
	for _, element := range elements {
		var value any
		if err := strictUnmarshal(element, &value); err != nil {
			return nil, errors.WrapInvalid(errors.Join(errors.ErrInvalidPayload, err), "collector", "decodeJSON", "decode JSON object")
		}

		obj, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if len(obj) == 0 {
			if len(elements) == 1 && trimmed[0] == '{' {
				return nil, errors.WrapInvalid(errors.ErrEmptyPayload, "collector", "decodeJSON", "decode JSON object")
			}
			continue
		}

		var raw bytes.Buffer
		if err := json.Compact(&raw, element); err != nil {
			return nil, errors.WrapInvalid(errors.Join(errors.ErrInvalidPayload, err), "collector", "decodeJSON", "compact JSON object")
		}
		objects = append(objects, Object{Keys: cmcd.FromJSON(obj), Raw: raw.String()})
	}
	return objects, nil
}

// strictUnmarshal decodes exactly one JSON value, keeping numbers as
// json.Number, and rejects trailing data.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func decodeText(_ *http.Request, body []byte, _ string) ([]Object, error) {
	lines := strings.Split(string(body), "\n")
	objects := make([]Object, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		decoded, err := url.PathUnescape(line)
		if err != nil {
			decoded = line
		}
		keys := cmcd.Parse(decoded)
		if len(keys) == 0 {
			continue
		}
		objects = append(objects, Object{Keys: keys, Raw: line})
	}
	return objects, nil
}

func decodeQuery(r *http.Request, _ []byte, queryParam string) ([]Object, error) {
	raw := r.URL.Query().Get(queryParam)
	if raw == "" {
		return nil, nil
	}
	keys := cmcd.Parse(raw)
	if len(keys) == 0 {
		return nil, nil
	}
	return []Object{{Keys: keys, Raw: raw}}, nil
}
