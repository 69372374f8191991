// Package keys implements the five pure key-extractor functions: by
// client IP, request path, header value, query-parameter value, and
// request-body field value. Each extractor takes a Fingerprint (plus a
// lookup name for ExtractHeader/ExtractQuery/ExtractBody) and returns the
// extracted value plus whether extraction succeeded. A failed extraction
// is never an error -- the caller skips that check.
package keys

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"
)

// MaxBodyBytes is the ceiling above which a body is treated as an
// ExtractionMiss for body-strategy extraction rather than parsed.
const MaxBodyBytes = 1 << 20 // 1 MiB

// Fingerprint is the relevant projection of an HTTP request needed by the
// key extractors. Headers are matched case-insensitively; everything else
// (paths, query names/values, body field names/values) is matched exactly
// as received.
type Fingerprint struct {
	IP          string
	Path        string
	Headers     map[string][]string // canonicalized (textproto) header names
	Query       url.Values
	Body        []byte
	ContentType string
}

// ExtractIP returns the client IP. It never misses for a well-formed
// Fingerprint; an empty IP is still reported as a miss since an empty
// string is not a meaningful bucket key.
func ExtractIP(fp Fingerprint) (string, bool) {
	if fp.IP == "" {
		return "", false
	}
	return fp.IP, true
}

// ExtractURL returns the request path, exactly as received (no query
// string). It never misses for a well-formed Fingerprint.
func ExtractURL(fp Fingerprint) (string, bool) {
	if fp.Path == "" {
		return "", false
	}
	return fp.Path, true
}

// ExtractHeader looks up a header by name, case-insensitively, as
// spec'd. The returned value is exact, unmodified.
func ExtractHeader(fp Fingerprint, name string) (string, bool) {
	if fp.Headers == nil {
		return "", false
	}
	canon := canonicalHeaderName(name)
	for k, values := range fp.Headers {
		if canonicalHeaderName(k) == canon && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

func canonicalHeaderName(name string) string {
	return strings.ToLower(name)
}

// ExtractQuery looks up a query parameter by exact name.
func ExtractQuery(fp Fingerprint, name string) (string, bool) {
	if fp.Query == nil {
		return "", false
	}
	values, ok := fp.Query[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// ExtractBody parses the buffered body as JSON when Content-Type is
// JSON-like, otherwise as form-urlencoded, and looks up field by exact
// name. Bodies over MaxBodyBytes, empty bodies, and unparseable bodies
// are all reported as a miss -- never an error.
func ExtractBody(fp Fingerprint, field string) (string, bool) {
	if len(fp.Body) == 0 || len(fp.Body) > MaxBodyBytes {
		return "", false
	}

	if isJSONContentType(fp.ContentType) {
		return extractJSONField(fp.Body, field)
	}
	return extractFormField(fp.Body, field)
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return strings.Contains(mediaType, "json")
}

func extractJSONField(body []byte, field string) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	raw, ok := doc[field]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

func extractFormField(body []byte, field string) (string, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}
	got, ok := values[field]
	if !ok || len(got) == 0 {
		return "", false
	}
	return got[0], true
}
