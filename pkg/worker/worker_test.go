package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rangedl/pkg/rangeerr"
	"rangedl/pkg/segment"
	"rangedl/pkg/sink"
	"rangedl/pkg/store/memory"
)

func TestRunWritesChunkAndRemovesSegmentOnCompletion(t *testing.T) {
	payload := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	st := memory.New()
	ctx := context.Background()
	id, err := st.Add(ctx, segment.Segment{URL: srv.URL, FilePath: "dest", Offset: 0, Remaining: 10})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dest.bin")
	dest, err := sink.Open(path, 10)
	require.NoError(t, err)
	defer dest.Close()

	seg, err := firstSegment(ctx, st, srv.URL)
	require.NoError(t, err)
	require.Equal(t, id, seg.ID)

	err = Run(ctx, http.DefaultClient, st, dest, seg, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	segs, err := st.ListByURL(ctx, srv.URL)
	require.NoError(t, err)
	require.Empty(t, segs)
}

func TestRunOversizedChunkIsTruncatedAndTerminates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-19/20")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 20))
	}))
	defer srv.Close()

	st := memory.New()
	ctx := context.Background()
	_, err := st.Add(ctx, segment.Segment{URL: srv.URL, FilePath: "dest", Offset: 0, Remaining: 5})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dest.bin")
	dest, err := sink.Open(path, 5)
	require.NoError(t, err)
	defer dest.Close()

	seg, err := firstSegment(ctx, st, srv.URL)
	require.NoError(t, err)

	err = Run(ctx, http.DefaultClient, st, dest, seg, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 5)

	segs, err := st.ListByURL(ctx, srv.URL)
	require.NoError(t, err)
	require.Empty(t, segs)
}

func TestRunShortBodyLeavesSegmentForResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	st := memory.New()
	ctx := context.Background()
	_, err := st.Add(ctx, segment.Segment{URL: srv.URL, FilePath: "dest", Offset: 0, Remaining: 10})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dest.bin")
	dest, err := sink.Open(path, 10)
	require.NoError(t, err)
	defer dest.Close()

	seg, err := firstSegment(ctx, st, srv.URL)
	require.NoError(t, err)

	err = Run(ctx, http.DefaultClient, st, dest, seg, nil)
	require.Error(t, err)

	segs, err := st.ListByURL(ctx, srv.URL)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, int64(3), segs[0].Offset)
	require.Equal(t, int64(7), segs[0].Remaining)
}

func TestRunBadStatusIsBadServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := memory.New()
	ctx := context.Background()
	_, err := st.Add(ctx, segment.Segment{URL: srv.URL, FilePath: "dest", Offset: 0, Remaining: 10})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dest.bin")
	dest, err := sink.Open(path, 10)
	require.NoError(t, err)
	defer dest.Close()

	seg, err := firstSegment(ctx, st, srv.URL)
	require.NoError(t, err)

	err = Run(ctx, http.DefaultClient, st, dest, seg, nil)
	require.True(t, rangeerr.IsBadServer(err))
}

func firstSegment(ctx context.Context, st *memory.Store, url string) (segment.Segment, error) {
	segs, err := st.ListByURL(ctx, url)
	if err != nil {
		return segment.Segment{}, err
	}
	if len(segs) == 0 {
		return segment.Segment{}, io.ErrUnexpectedEOF
	}
	return segs[0], nil
}
