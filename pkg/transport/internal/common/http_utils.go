// Package common holds the range-header parsing and validator logic shared
// by the probing transport and the resumable round tripper, so both agree
// on what a server's Accept-Ranges, Range, Content-Range, and ETag headers
// mean.
package common

import (
	"net/http"
	"strconv"
	"strings"
)

// SupportsRange reports whether a response advertises byte-range support via
// "Accept-Ranges: bytes". A segment worker's GET is only safe to retry
// mid-stream against a server that answers yes here.
func SupportsRange(h http.Header) bool {
	ar := strings.ToLower(h.Get("Accept-Ranges"))
	for _, part := range strings.Split(ar, ",") {
		if strings.TrimSpace(part) == "bytes" {
			return true
		}
	}
	return false
}

// ScrubConditionalHeaders strips the conditional headers a resume request
// must not carry over from the request that produced the original
// response, leaving Range/If-Range to be set explicitly by the caller.
func ScrubConditionalHeaders(h http.Header) {
	h.Del("If-None-Match")
	h.Del("If-Modified-Since")
	h.Del("If-Match")
	h.Del("If-Unmodified-Since")
}

// IsWeakETag reports whether etag is a weak validator (W/"...") which RFC
// 7232 §2.1 forbids using in an If-Range header, since a weak match would
// let a resume splice bytes from two different representations together.
func IsWeakETag(etag string) bool {
	etag = strings.TrimSpace(etag)
	return strings.HasPrefix(etag, "W/") || strings.HasPrefix(etag, "w/")
}

// ParseSingleRange parses the single-range request header a segment worker
// sends, "Range: bytes=start-end". It returns (start, end, ok); end == -1
// when omitted. Only the absolute-start form is understood: suffix ranges
// ("-N") and multi-range (comma-separated) specs return ok == false, since
// a worker never issues either.
func ParseSingleRange(h string) (int64, int64, bool) {
	if h == "" {
		return 0, -1, false
	}
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(strings.ToLower(h), "bytes=") {
		return 0, -1, false
	}
	spec := strings.TrimSpace(h[len("bytes="):])
	if strings.Contains(spec, ",") {
		return 0, -1, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, -1, false
	}
	if parts[0] == "" {
		// Suffix form is not supported here.
		return 0, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || start < 0 {
		return 0, -1, false
	}
	end := int64(-1)
	if strings.TrimSpace(parts[1]) != "" {
		e, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || e < start {
			return 0, -1, false
		}
		end = e
	}
	return start, end, true
}

// ParseContentRange parses a 206 response's "Content-Range: bytes
// start-end/total" header, the authority on what range a server actually
// delivered, which can disagree with what the worker asked for. It returns
// (start, end, total, ok); total == -1 when the server reports "*".
func ParseContentRange(h string) (int64, int64, int64, bool) {
	if h == "" {
		return 0, -1, -1, false
	}
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "bytes ") {
		return 0, -1, -1, false
	}
	body := strings.TrimSpace(h[len("bytes "):])
	seTotal := strings.SplitN(body, "/", 2)
	if len(seTotal) != 2 {
		return 0, -1, -1, false
	}
	se := strings.SplitN(strings.TrimSpace(seTotal[0]), "-", 2)
	if len(se) != 2 {
		return 0, -1, -1, false
	}
	start, err1 := strconv.ParseInt(strings.TrimSpace(se[0]), 10, 64)
	end, err2 := strconv.ParseInt(strings.TrimSpace(se[1]), 10, 64)
	totalStr := strings.TrimSpace(seTotal[1])
	var total int64 = -1
	var err3 error
	if totalStr != "*" {
		total, err3 = strconv.ParseInt(totalStr, 10, 64)
	}
	if err1 != nil || err2 != nil || (err3 != nil && totalStr != "*") {
		return 0, -1, -1, false
	}
	return start, end, total, true
}
