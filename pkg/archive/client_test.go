package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wallsync/pkg/config"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
	"wallsync/pkg/ratelimit"
)

const listingHTML = `<html><body>
<div class="row">
  <a href="/detail/us/OHR.Third"><img src="x"></a>
  <a href="/detail/us/OHR.Third">Third</a>
  <a href="/detail/us/OHR.Second">Second</a>
  <a href="/about">About</a>
  <a href="/detail/de/OHR.Other">Other region</a>
  <a href="/detail/us/OHR.First/">First</a>
</div>
</body></html>`

const detailHTML = `<html><body>
<div class="fw-bold py-3">
  Lavender fields, Provence (© Jane Doe/Getty Images)(Bing United States)
</div>
<a href="https://img.example/insecure/rs:fit:w:1920/q:100/plain/x.jpg">1920</a>
<a href="/proxy/rs:fit:w:3840/q:100/plain/x.jpg">4K</a>
<a href="/proxy/rs:fit:w:3840/q:90/plain/y.jpg">4K again</a>
</body></html>`

func newTestServer(t *testing.T, requests *[]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/archive/us/202403", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	})
	mux.HandleFunc("/archive/us/202405", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/detail/us/OHR.Third", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailHTML)
	})
	mux.HandleFunc("/cdn/202403/OHR.Third.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(append([]byte{0xff, 0xd8}, bytes.Repeat([]byte{1}, 100)...))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, pacer ratelimit.Limiter) *Client {
	return NewClient(config.ArchiveConfig{
		BaseURL:         srv.URL,
		CDNBaseURL:      srv.URL + "/cdn",
		Region:          "us",
		Timeout:         5 * time.Second,
		DownloadTimeout: 5 * time.Second,
	}, pacer, logger.NewTestLogger())
}

func TestFetchListing(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)

	entries, err := c.FetchListing(context.Background(), period.MustParse("202403"))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, ListingEntry{Position: 1, ItemID: "OHR.Third", DetailURL: c.DetailURL("OHR.Third")}, entries[0])
	assert.Equal(t, "OHR.Second", entries[1].ItemID)
	assert.Equal(t, 3, entries[2].Position)
	assert.Equal(t, "OHR.First", entries[2].ItemID)
}

func TestFetchListingNotFoundIsEmpty(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)

	entries, err := c.FetchListing(context.Background(), period.MustParse("203001"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchListingServerError(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)

	_, err := c.FetchListing(context.Background(), period.MustParse("202405"))
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeServerError))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusServiceUnavailable, e.Code)
}

func TestFetchDetail(t *testing.T) {
	var requests []string
	srv := newTestServer(t, &requests)
	c := newTestClient(srv, nil)

	d, err := c.FetchDetail(context.Background(), "OHR.Third")
	require.NoError(t, err)

	assert.Equal(t, "OHR.Third", d.ItemID)
	assert.Equal(t, "Lavender fields, Provence (© Jane Doe/Getty Images)(Bing United States)", d.Caption)
	assert.Equal(t, []int{3840, 1920}, d.Widths())

	best, width, ok := d.BestImageURL()
	require.True(t, ok)
	assert.Equal(t, 3840, width)
	assert.Equal(t, srv.URL+"/proxy/rs:fit:w:3840/q:100/plain/x.jpg", best)
}

func TestFetchDetailMissing(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)

	_, err := c.FetchDetail(context.Background(), "OHR.Nope")
	assert.True(t, errs.IsType(err, errs.ErrorTypeNotFound))
}

func TestFetchImageFromCDN(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)

	data, err := c.FetchImage(context.Background(), c.CDNURL(period.MustParse("20240315"), "OHR.Third"))
	require.NoError(t, err)
	assert.True(t, LooksLikeJPEG(data, 50))
	assert.False(t, LooksLikeJPEG(data, 500))
	assert.False(t, LooksLikeJPEG([]byte("<html>"), 1))
	assert.Equal(t, []string{"/cdn/202403/OHR.Third.jpg"}, requests)
}

func TestEveryRequestWaitsOnPacer(t *testing.T) {
	var requests []string
	pacer := ratelimit.NewPacer(0)
	c := newTestClient(newTestServer(t, &requests), pacer)
	ctx := context.Background()

	_, _ = c.FetchListing(ctx, period.MustParse("202403"))
	_, _ = c.FetchDetail(ctx, "OHR.Third")
	_, _ = c.FetchImage(ctx, c.CDNURL(period.MustParse("202403"), "OHR.Third"))

	assert.Equal(t, 3, pacer.Requests())
	assert.Len(t, requests, 3)
}

func TestCancelledContextSkipsRequest(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), ratelimit.NewPacer(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchListing(ctx, period.MustParse("202403"))
	require.Error(t, err)
	assert.Empty(t, requests)
}

func TestURLs(t *testing.T) {
	c := NewClient(config.ArchiveConfig{
		BaseURL:    "https://archive.test/",
		CDNBaseURL: "https://cdn.test",
		Region:     "us",
	}, nil, logger.NewNopLogger())

	p := period.MustParse("2024-03")
	assert.Equal(t, "https://archive.test/archive/us/202403", c.ListingURL(p))
	assert.Equal(t, "https://archive.test/detail/us/OHR.X", c.DetailURL("OHR.X"))
	assert.Equal(t, "https://cdn.test/202403/OHR.X.jpg", c.CDNURL(p, "OHR.X"))
	assert.True(t, c.HasCDN())
	assert.False(t, strings.HasSuffix(c.ListingURL(p), "/"))
}

func TestFetchImageRejectsOversizedBody(t *testing.T) {
	var requests []string
	c := newTestClient(newTestServer(t, &requests), nil)
	c.maxBody = 50

	data, err := c.FetchImage(context.Background(), c.CDNURL(period.MustParse("202403"), "OHR.Third"))
	require.Error(t, err)
	assert.Nil(t, data)
	assert.True(t, errs.IsType(err, errs.ErrorTypeParsing))

	c.maxBody = 102
	data, err = c.FetchImage(context.Background(), c.CDNURL(period.MustParse("202403"), "OHR.Third"))
	require.NoError(t, err)
	assert.Len(t, data, 102)
}
