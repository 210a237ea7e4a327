package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wallsync/pkg/config"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
	"wallsync/pkg/ratelimit"
)

// maxImageBytes caps a single image download
const maxImageBytes = 64 << 20

// JPEGMagic is the start-of-image marker every valid payload begins with
var JPEGMagic = []byte{0xff, 0xd8}

// Client talks to the wallpaper archive and its image CDN. Every request
// waits on the shared pacer first.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	headers        map[string]string
	baseURL        string
	cdnURL         string
	region         string
	pacer          ratelimit.Limiter
	logger         logger.Logger
	maxBody        int64
}

// NewClient creates a new archive client
func NewClient(cfg config.ArchiveConfig, pacer ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if pacer == nil {
		pacer = ratelimit.Unlimited{}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultConfig().Archive.UserAgent
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		downloadClient: &http.Client{Timeout: cfg.DownloadTimeout},
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
			"Referer":         base + "/",
		},
		baseURL: base,
		cdnURL:  strings.TrimRight(cfg.CDNBaseURL, "/"),
		region:  cfg.Region,
		pacer:   pacer,
		logger:  log,
		maxBody: maxImageBytes,
	}
}

// ListingURL returns the archive page for month
func (c *Client) ListingURL(month period.Period) string {
	return fmt.Sprintf("%s/archive/%s/%s", c.baseURL, c.region, month.MonthOf())
}

// DetailURL returns the detail page for an item
func (c *Client) DetailURL(itemID string) string {
	return fmt.Sprintf("%s/detail/%s/%s", c.baseURL, c.region, itemID)
}

// CDNURL returns the direct CDN location of an item
func (c *Client) CDNURL(month period.Period, itemID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", c.cdnURL, month.MonthOf(), itemID)
}

// HasCDN reports whether a CDN base URL is configured
func (c *Client) HasCDN() bool {
	return c.cdnURL != ""
}

// FetchListing returns the items listed for month, most recent first.
// A month the archive does not know (404) yields an empty listing.
func (c *Client) FetchListing(ctx context.Context, month period.Period) ([]ListingEntry, error) {
	url := c.ListingURL(month)
	body, err := c.get(ctx, c.httpClient, url)
	if err != nil {
		if errs.IsType(err, errs.ErrorTypeNotFound) {
			c.logger.DebugWithFields("Archive has no page for month", map[string]interface{}{
				"period": month.String(),
			})
			return nil, nil
		}
		return nil, err
	}

	entries, err := parseListing(bytes.NewReader(body), c.region)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].DetailURL = c.DetailURL(entries[i].ItemID)
	}
	return entries, nil
}

// FetchDetail returns the caption and image links from an item's detail page
func (c *Client) FetchDetail(ctx context.Context, itemID string) (*Detail, error) {
	body, err := c.get(ctx, c.httpClient, c.DetailURL(itemID))
	if err != nil {
		return nil, err
	}

	detail, err := parseDetail(bytes.NewReader(body), c.baseURL)
	if err != nil {
		return nil, err
	}
	detail.ItemID = itemID
	return detail, nil
}

// FetchImage downloads an image and returns its bytes
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, c.downloadClient, url)
}

// get issues a paced GET and returns the body of a 2xx response
func (c *Client) get(ctx context.Context, hc *http.Client, url string) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.WithError(err).WarnWithFields("Archive request failed", map[string]interface{}{
			"url":      url,
			"duration": time.Since(start),
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "request to %s failed", url)
	}
	defer resp.Body.Close()

	logger.LogRequest(c.logger, req.Method, url, resp.StatusCode, time.Since(start))

	if err := checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("response from %s exceeds %d bytes", url, c.maxBody),
			Code:    resp.StatusCode,
		}
	}
	return body, nil
}

// checkResponseStatus maps non-2xx responses to typed errors
func checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &errs.Error{
		Type:    errs.TypeForStatusCode(resp.StatusCode),
		Message: fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL.Path),
		Code:    resp.StatusCode,
	}
}

// LooksLikeJPEG reports whether data starts with the JPEG marker and reaches minSize
func LooksLikeJPEG(data []byte, minSize int64) bool {
	return int64(len(data)) >= minSize && bytes.HasPrefix(data, JPEGMagic)
}
