package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"rangedl/pkg/rangeerr"
)

func TestProbeURLReportsSizeAndRangeSupport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Length", "2048")
	}))
	defer srv.Close()

	client := New(nil)
	p, err := ProbeURL(context.Background(), client, srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(2048), p.Size)
	require.True(t, p.AcceptsRanges)
	require.Equal(t, `"abc123"`, p.ETag)
}

func TestProbeURLWeakETagIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `W/"abc123"`)
		w.Header().Set("Content-Length", "10")
	}))
	defer srv.Close()

	p, err := ProbeURL(context.Background(), New(nil), srv.URL)
	require.NoError(t, err)
	require.Empty(t, p.ETag)
}

func TestProbeURLMissingContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
	}))
	defer srv.Close()

	_, err := ProbeURL(context.Background(), New(nil), srv.URL)
	require.ErrorIs(t, err, rangeerr.ErrContentLengthUnsupported)
}

func TestProbeURLZeroLengthResourceIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
	}))
	defer srv.Close()

	p, err := ProbeURL(context.Background(), New(nil), srv.URL)
	require.NoError(t, err)
	require.Zero(t, p.Size)
}

func TestProbeURLUnsupportedScheme(t *testing.T) {
	_, err := ProbeURL(context.Background(), New(nil), "ftp://example.com/file")
	require.ErrorIs(t, err, rangeerr.ErrUnsupportedScheme)
}

func TestProbeURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := ProbeURL(context.Background(), New(nil), srv.URL)
	require.True(t, rangeerr.IsBadServer(err))
}

func TestClientRejectsUnsupportedScheme(t *testing.T) {
	client := New(nil)
	req, err := http.NewRequest(http.MethodGet, "ftp://example.com/file", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	var urlErr *url.Error
	require.ErrorAs(t, err, &urlErr)
	require.ErrorIs(t, urlErr.Unwrap(), rangeerr.ErrUnsupportedScheme)
}
