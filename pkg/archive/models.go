package archive

import (
	"io"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	errs "wallsync/pkg/errors"
)

// PreferredWidths lists image widths in order of preference
var PreferredWidths = []int{3840, 2560, 1920}

// ListingEntry is one item on a month's archive page. Position 1 is the
// most recent day.
type ListingEntry struct {
	Position  int
	ItemID    string
	DetailURL string
}

// Detail is what an item's detail page tells us
type Detail struct {
	ItemID    string
	Caption   string
	ImageURLs map[int]string
}

// BestImageURL returns the highest preferred resolution link, if any
func (d *Detail) BestImageURL() (string, int, bool) {
	for _, w := range PreferredWidths {
		if u, ok := d.ImageURLs[w]; ok {
			return u, w, true
		}
	}
	return "", 0, false
}

// Widths returns the widths found on the page, largest first
func (d *Detail) Widths() []int {
	out := make([]int, 0, len(d.ImageURLs))
	for w := range d.ImageURLs {
		out = append(out, w)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// parseListing extracts detail links in page order, dropping repeats
func parseListing(r io.Reader, region string) ([]ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse listing page")
	}

	prefix := "/detail/" + region + "/"
	seen := make(map[string]bool)
	var entries []ListingEntry

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || !strings.HasPrefix(u.Path, prefix) {
			return
		}
		id := strings.TrimSuffix(u.Path, "/")
		id = id[strings.LastIndex(id, "/")+1:]
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		entries = append(entries, ListingEntry{Position: len(entries) + 1, ItemID: id})
	})

	return entries, nil
}

var widthPattern = regexp.MustCompile(`w:(\d+)`)

// parseDetail pulls the caption and width-tagged image links from a detail page
func parseDetail(r io.Reader, baseURL string) (*Detail, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse detail page")
	}

	base, _ := url.Parse(baseURL)
	detail := &Detail{ImageURLs: make(map[int]string)}
	detail.Caption = strings.TrimSpace(doc.Find("div.fw-bold.py-3").First().Text())

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		m := widthPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		width, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		if _, dup := detail.ImageURLs[width]; dup {
			return
		}
		detail.ImageURLs[width] = resolve(base, href)
	})

	return detail, nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
