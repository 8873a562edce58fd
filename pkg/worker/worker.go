// Package worker executes one segment's ranged GET against the origin
// server and streams its body into the shared sink.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"rangedl/pkg/logging"
	"rangedl/pkg/rangeerr"
	"rangedl/pkg/segment"
	"rangedl/pkg/sink"
	"rangedl/pkg/store"
)

// chunkSize bounds how much of the response body is read, written, and
// persisted per iteration, so no single write holds the sink mutex for
// longer than it takes to move this many bytes.
const chunkSize = 256 * 1024

// Run executes seg to completion: it issues a ranged GET for
// [offset, offset+remaining), and for each body chunk received, writes it
// into dest at the segment's current offset, persists the updated segment
// via st, and advances offset/remaining. On normal completion (remaining
// reaches zero) it removes the segment record from st. On a network error
// mid-stream, the segment is left in the store at its last persisted
// offset/remaining so a later coordinator run can resume it.
func Run(ctx context.Context, client *http.Client, st store.Store, dest *sink.Sink, seg segment.Segment, log logging.Logger) error {
	if log == nil {
		log = logging.Discard()
	}
	entry := log.WithField("component", "worker").WithField("segment_id", seg.ID)

	if seg.Done() {
		entry.Debug("segment already complete, removing record")
		return st.RemoveByID(ctx, seg.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URL, nil)
	if err != nil {
		return rangeerr.NewTransportError(seg.URL, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.Offset, seg.End()-1))

	entry.WithField("range", req.Header.Get("Range")).Debug("issuing ranged GET")
	resp, err := client.Do(req)
	if err != nil {
		return rangeerr.NewTransportError(seg.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return rangeerr.NewBadServer(fmt.Sprintf("unexpected GET status %d", resp.StatusCode), "")
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			// A chunk longer than remaining is a server protocol
			// violation: write only what's owed and stop.
			if int64(n) > seg.Remaining {
				chunk = chunk[:seg.Remaining]
			}
			if len(chunk) > 0 {
				if err := dest.WriteAt(seg.Offset, chunk); err != nil {
					return err
				}

				seg.Offset += int64(len(chunk))
				seg.Remaining -= int64(len(chunk))
				if err := st.Update(ctx, seg); err != nil {
					return err
				}
			}

			if seg.Done() {
				entry.Debug("segment complete")
				return st.RemoveByID(ctx, seg.ID)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				if seg.Done() {
					return st.RemoveByID(ctx, seg.ID)
				}
				entry.WithField("remaining", seg.Remaining).Warn("body ended before segment complete")
				return rangeerr.NewTransportError(seg.URL, io.ErrUnexpectedEOF)
			}
			return rangeerr.NewTransportError(seg.URL, readErr)
		}
	}
}
