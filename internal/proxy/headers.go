package proxy

import (
	"net/http"
	"strings"
)

// excludedHeaders are never copied across the proxy boundary, in either direction
var excludedHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"content-length":    {},
	"transfer-encoding": {},
	"upgrade":           {},
	"http2-settings":    {},
	"te":                {},
	"trailer":           {},
}

// IsExcluded reports whether name is stripped by the forwarder. Matching is
// case-insensitive.
func IsExcluded(name string) bool {
	_, ok := excludedHeaders[strings.ToLower(name)]
	return ok
}

// copyHeaders appends every non-excluded header of src to dst
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsExcluded(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
