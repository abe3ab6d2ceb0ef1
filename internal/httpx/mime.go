package httpx

import (
	"net/http"
	"strings"
)

// MediaType returns the media type of the request.
func MediaType(req *http.Request) string {
	typ := strings.TrimSpace(strings.Split(req.Header.Get("Content-Type"), ";")[0])
	if typ == "" {
		typ = "application/octet-stream"
	}
	return typ
}

// Accepts reports whether the request's Accept header lists any of the given
// media types. A missing Accept header, or */*, accepts everything.
func Accepts(req *http.Request, types ...string) bool {
	accept := req.Header.Get("Accept")
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		typ := strings.TrimSpace(strings.Split(part, ";")[0])
		if typ == "*/*" || typ == "application/*" {
			return true
		}
		for _, t := range types {
			if strings.EqualFold(typ, t) {
				return true
			}
		}
	}
	return false
}
