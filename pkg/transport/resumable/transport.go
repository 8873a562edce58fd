// Package resumable provides an http.RoundTripper that transparently resumes
// interrupted GET responses from servers that support byte ranges.
//
// A segment worker's ranged GET can still be cut mid-stream by a dropped
// connection; this wraps the response body so the worker's Read loop never
// sees that failure as long as a resume attempt succeeds; the read error
// reaches the worker only once the resume budget here is exhausted.
//
//   - For GET responses with status 200 or 206 and "Accept-Ranges: bytes",
//     the transport replaces resp.Body with a resumable reader.
//   - If a mid-stream read fails, it issues a follow-up request with a
//     "Range" header to continue from the last delivered byte, using a
//     strong ETag or Last-Modified via If-Range.
//   - If the server doesn't support ranges (or for non-GET), the response
//     passes through unmodified.
package resumable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"rangedl/pkg/transport/internal/common"
)

// Option configures a ResumableTransport.
type Option func(*ResumableTransport)

// WithMaxRetries sets the maximum number of resume attempts after an error.
// Default: 3.
func WithMaxRetries(n int) Option {
	return func(rt *ResumableTransport) { rt.maxRetries = n }
}

// BackoffFunc computes the sleep duration for a given retry attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// WithBackoff sets the backoff strategy for resume attempts. Default:
// jittered exponential starting at 200ms, capped at 5s.
func WithBackoff(f BackoffFunc) Option {
	return func(rt *ResumableTransport) { rt.backoff = f }
}

// ResumableTransport wraps another http.RoundTripper and transparently
// retries mid-stream failures for GET requests against servers that support
// range requests.
type ResumableTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    BackoffFunc
}

// New returns a ResumableTransport wrapping base. If base is nil,
// http.DefaultTransport is used.
func New(base http.RoundTripper, opts ...Option) *ResumableTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := &ResumableTransport{
		base:       base,
		maxRetries: 3,
		backoff: func(i int) time.Duration {
			d := time.Duration(float64(200*time.Millisecond) * math.Pow(2, float64(i)))
			if d > 5*time.Second {
				d = 5 * time.Second
			}
			j := 0.2 + rand.Float64()*0.4
			return time.Duration(float64(d) * j)
		},
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// RoundTrip implements http.RoundTripper.
func (rt *ResumableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if resp == nil || err != nil {
		return resp, err
	}

	if !isResumable(req, resp) {
		return resp, nil
	}

	rb := newResumableBody(req, resp, rt)
	resp.Body = rb
	if n, ok := rb.plannedLength(); ok {
		resp.ContentLength = n
	} else {
		resp.ContentLength = -1
	}
	return resp, nil
}

func isResumable(req *http.Request, resp *http.Response) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false
	}
	if !common.SupportsRange(resp.Header) {
		return false
	}
	if resp.Uncompressed || resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	return true
}

// resumableBody wraps a Response.Body to add transparent resume support.
type resumableBody struct {
	mu                sync.Mutex
	ctx               context.Context
	tr                *ResumableTransport
	base              http.RoundTripper
	origReq           *http.Request
	current           *http.Response
	rc                io.ReadCloser
	bytesRead         int64
	initialStart      int64
	initialEnd        *int64
	totalSize         *int64
	etag              string
	lastModified      string
	retriesUsed       int
	originalRangeSpec string
	done              bool
}

func newResumableBody(req *http.Request, resp *http.Response, tr *ResumableTransport) *resumableBody {
	rb := &resumableBody{
		ctx:               req.Context(),
		tr:                tr,
		base:              tr.base,
		origReq:           req,
		current:           resp,
		rc:                resp.Body,
		originalRangeSpec: req.Header.Get("Range"),
	}

	if start, end, ok := common.ParseSingleRange(rb.originalRangeSpec); ok {
		rb.initialStart = start
		if end >= 0 {
			rb.initialEnd = &end
		}
	}

	if resp.StatusCode == http.StatusPartialContent {
		if s, e, total, ok := common.ParseContentRange(resp.Header.Get("Content-Range")); ok {
			rb.initialStart = s
			if e >= 0 {
				rb.initialEnd = &e
			}
			if total >= 0 {
				rb.totalSize = &total
			}
		}
	} else if resp.ContentLength >= 0 {
		total := resp.ContentLength
		rb.totalSize = &total
	}

	if et := resp.Header.Get("ETag"); et != "" && !common.IsWeakETag(et) {
		rb.etag = et
	} else if lm := resp.Header.Get("Last-Modified"); lm != "" {
		rb.lastModified = lm
	}
	return rb
}

// Read delivers bytes to the caller, transparently resuming on a mid-stream
// read failure by issuing a new Range request.
func (rb *resumableBody) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.done {
		return 0, io.EOF
	}
	if rb.rc == nil {
		if err := rb.resume(rb.bytesRead); err != nil {
			return 0, err
		}
	}

	n, err := rb.rc.Read(p)
	rb.bytesRead += int64(n)

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		rb.done = true
		return n, io.EOF
	default:
		_ = rb.rc.Close()
		rb.rc = nil

		if n > 0 {
			return n, nil
		}
		if rb.retriesUsed >= rb.tr.maxRetries {
			return 0, err
		}
		if rerr := rb.resume(rb.bytesRead); rerr != nil {
			return 0, rerr
		}

		n2, err2 := rb.rc.Read(p)
		rb.bytesRead += int64(n2)
		if err2 == nil {
			return n2, nil
		}
		if errors.Is(err2, io.EOF) {
			rb.done = true
		}
		return n2, err2
	}
}

// Close closes the current response body if present.
func (rb *resumableBody) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.rc != nil {
		return rb.rc.Close()
	}
	return nil
}

// plannedLength returns the exact number of bytes this body intends to
// produce, if knowable.
func (rb *resumableBody) plannedLength() (int64, bool) {
	if rb.initialEnd != nil {
		return *rb.initialEnd - rb.initialStart + 1, true
	}
	if rb.current.StatusCode == http.StatusOK && rb.totalSize != nil {
		return *rb.totalSize, true
	}
	return 0, false
}

func (rb *resumableBody) resume(absoluteOffset int64) error {
	remaining := rb.tr.maxRetries - rb.retriesUsed
	for attempt := 0; attempt < remaining; attempt++ {
		if err := rb.ctx.Err(); err != nil {
			return err
		}

		start := rb.initialStart + absoluteOffset
		rangeVal := buildRangeHeader(start, rb.initialEnd)
		req := rb.cloneBaseRequest(rangeVal)

		if attempt > 0 || rb.retriesUsed > 0 {
			if err := waitBackoff(rb.ctx, rb.tr.backoff, rb.retriesUsed+attempt); err != nil {
				return err
			}
		}

		resp, err := rb.base.RoundTrip(req)
		if err != nil {
			continue
		}

		switch resp.StatusCode {
		case http.StatusPartialContent:
			s, _, _, ok := common.ParseContentRange(resp.Header.Get("Content-Range"))
			if !ok || s != start {
				_ = resp.Body.Close()
				continue
			}
			rb.swapResponse(resp)
			rb.retriesUsed++
			return nil

		case http.StatusOK:
			_ = resp.Body.Close()
			return fmt.Errorf("resumable: server returned 200 to a range request; resource may have changed")

		case http.StatusRequestedRangeNotSatisfiable:
			if rb.rangeIsComplete(absoluteOffset) {
				rb.done = true
				_ = resp.Body.Close()
				return io.EOF
			}
			_ = resp.Body.Close()

		default:
			_ = resp.Body.Close()
		}
	}
	return fmt.Errorf("resumable: exceeded retry budget after %d attempts", rb.tr.maxRetries)
}

func (rb *resumableBody) swapResponse(resp *http.Response) {
	if rb.rc != nil && rb.rc != resp.Body {
		_ = rb.rc.Close()
	}
	rb.current = resp
	rb.rc = resp.Body

	if et := resp.Header.Get("ETag"); et != "" && !common.IsWeakETag(et) {
		rb.etag = et
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		rb.lastModified = lm
	}

	if _, e, total, ok := common.ParseContentRange(resp.Header.Get("Content-Range")); ok {
		if e >= 0 {
			rb.initialEnd = &e
		}
		if total >= 0 {
			rb.totalSize = &total
		}
	}
}

func (rb *resumableBody) cloneBaseRequest(rangeVal string) *http.Request {
	req := rb.origReq.Clone(rb.ctx)
	req.Body = nil
	req.ContentLength = 0
	req.Header = cloneHeader(rb.origReq.Header)

	req.Header.Set("Range", rangeVal)
	common.ScrubConditionalHeaders(req.Header)

	if rb.etag != "" {
		req.Header.Set("If-Range", rb.etag)
	} else if rb.lastModified != "" {
		req.Header.Set("If-Range", rb.lastModified)
	}

	req.Header.Set("Accept-Encoding", "identity")
	return req
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		cp := make([]string, len(vv))
		copy(cp, vv)
		out[k] = cp
	}
	return out
}

func buildRangeHeader(start int64, end *int64) string {
	if end == nil {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, *end)
}

func waitBackoff(ctx context.Context, bf BackoffFunc, attempt int) error {
	d := time.Duration(0)
	if bf != nil {
		d = bf(attempt)
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rangeIsComplete returns true if the bytes delivered already meet the
// expected end of the range or resource, so a 416 means the transfer is
// actually done.
func (rb *resumableBody) rangeIsComplete(absoluteOffset int64) bool {
	if rb.totalSize != nil {
		if rb.initialStart+absoluteOffset >= *rb.totalSize {
			return true
		}
	}
	if rb.initialEnd != nil {
		if rb.initialStart+absoluteOffset >= *rb.initialEnd+1 {
			return true
		}
	}
	return false
}
