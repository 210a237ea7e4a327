package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wallsync/pkg/archive"
	"wallsync/pkg/catalog"
	"wallsync/pkg/config"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/metadata"
	"wallsync/pkg/period"
	"wallsync/pkg/progress"
	"wallsync/pkg/reconcile"
)

const testMinSize = 8

var goodJPEG = append([]byte{0xff, 0xd8}, bytes.Repeat([]byte{7}, 30)...)

// MockFetcher serves images by URL and counts calls
type MockFetcher struct {
	images   map[string][]byte
	details  map[string]*archive.Detail
	listings map[string][]archive.ListingEntry
	noCDN    bool

	mu        sync.Mutex
	fetched   []string
	listCalls int
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		images:   make(map[string][]byte),
		details:  make(map[string]*archive.Detail),
		listings: make(map[string][]archive.ListingEntry),
	}
}

func (m *MockFetcher) FetchListing(ctx context.Context, month period.Period) ([]archive.ListingEntry, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	return m.listings[month.String()], nil
}

func (m *MockFetcher) FetchDetail(ctx context.Context, itemID string) (*archive.Detail, error) {
	if d, ok := m.details[itemID]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no detail page for %s", itemID)
}

func (m *MockFetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, url)
	m.mu.Unlock()
	if data, ok := m.images[url]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("404 for %s", url)
}

func (m *MockFetcher) CDNURL(month period.Period, itemID string) string {
	return "cdn/" + month.MonthOf().String() + "/" + itemID + ".jpg"
}

func (m *MockFetcher) HasCDN() bool {
	return !m.noCDN
}

func (m *MockFetcher) GetFetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

// serveCDN makes every entry available on the CDN
func (m *MockFetcher) serveCDN(entries []catalog.Entry) {
	for _, e := range entries {
		m.images[m.CDNURL(e.Month, e.ItemID)] = goodJPEG
	}
}

// MockStorage is an in-memory ItemStorage
type MockStorage struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func NewMockStorage() *MockStorage {
	return &MockStorage{saved: make(map[string][]byte)}
}

func (m *MockStorage) IsPresent(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[filename]
	return ok
}

func (m *MockStorage) WriteItem(r io.Reader, filename string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[filename] = data
	return int64(len(data)), nil
}

func (m *MockStorage) put(entries []catalog.Entry) {
	for _, e := range entries {
		m.saved[e.Filename] = goodJPEG
	}
}

func (m *MockStorage) Has(filename string) bool {
	return m.IsPresent(filename)
}

func monthEntries(month string, n int) []catalog.Entry {
	p := period.MustParse(month)
	var out []catalog.Entry
	for d := 1; d <= n; d++ {
		out = append(out, catalog.NewEntry(p.Date(d), p, fmt.Sprintf("%s-%02d", month, d)))
	}
	return out
}

func newStore(entries ...[]catalog.Entry) *catalog.Store {
	s := catalog.NewStore("")
	for _, group := range entries {
		for _, e := range group {
			s.Upsert(e)
		}
	}
	return s
}

type testEngine struct {
	*Engine
	fetcher *MockFetcher
	storage *MockStorage
	pm      *progress.Manager
	meta    *metadata.Index
}

func newTestEngine(t *testing.T, cat Catalog, opts Options) *testEngine {
	t.Helper()
	dir := t.TempDir()
	meta, err := metadata.Load(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)

	te := &testEngine{
		fetcher: NewMockFetcher(),
		storage: NewMockStorage(),
		pm:      progress.NewManager(filepath.Join(dir, "state.json"), logger.NewNopLogger()),
		meta:    meta,
	}
	if opts.MinFileSize == 0 {
		opts.MinFileSize = testMinSize
	}
	te.Engine = NewEngine(te.fetcher, te.storage, cat, te.pm, meta, opts, logger.NewTestLogger())
	return te
}

func mustRange(t *testing.T, start, end string) period.Range {
	t.Helper()
	r, err := period.ParseRange(start, end)
	require.NoError(t, err)
	return r
}

func TestSyncFetchesCatalogedItems(t *testing.T) {
	entries := monthEntries("202302", 28)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)

	res, err := te.Sync(context.Background(), mustRange(t, "202302", "202302"), nil)
	require.NoError(t, err)
	assert.Equal(t, 28, res.Fetched)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, int64(28*len(goodJPEG)), res.Bytes)
	assert.Equal(t, 28, te.fetcher.GetFetchCount())

	state, err := te.pm.Load()
	require.NoError(t, err)
	assert.Equal(t, 28, state.DoneItems.Len())
	assert.False(t, state.IsDone(period.MustParse("202302")), "the engine never marks months done")
}

func TestSyncNeverRefetchesPresentItems(t *testing.T) {
	entries := monthEntries("202302", 28)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	r := mustRange(t, "202302", "202302")

	for i := 0; i < 3; i++ {
		_, err := te.Sync(context.Background(), r, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 28, te.fetcher.GetFetchCount())
}

func TestSyncSkipsDoneMonths(t *testing.T) {
	entries := monthEntries("202302", 28)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)

	state := progress.NewState()
	state.MarkDone(period.MustParse("202302"))
	require.NoError(t, te.pm.Save(state))

	res, err := te.Sync(context.Background(), mustRange(t, "202302", "202302"), nil)
	require.NoError(t, err)
	assert.Equal(t, []period.Period{period.MustParse("202302")}, res.SkippedPeriods)
	assert.Equal(t, 0, te.fetcher.GetFetchCount())
}

func TestSyncFetchesCurrentMonthMarkedDone(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	entries := monthEntries("202403", 3)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	te.SetClock(func() time.Time { return now })

	// older scrapers mark the month they are working on done
	state := progress.NewState()
	state.MarkDone(period.MustParse("202403"))
	require.NoError(t, te.pm.Save(state))

	res, err := te.Sync(context.Background(), mustRange(t, "202403", "202403"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.SkippedPeriods)
	assert.Equal(t, 3, res.Fetched)

	te.pm.SetClock(func() time.Time { return now })
	loaded, err := te.pm.Load()
	require.NoError(t, err)
	assert.False(t, loaded.IsDone(period.MustParse("202403")))
}

func TestSyncResetIgnoresDoneMonths(t *testing.T) {
	entries := monthEntries("202302", 2)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly, Reset: true})
	te.fetcher.serveCDN(entries)

	state := progress.NewState()
	state.MarkDone(period.MustParse("202302"))
	require.NoError(t, te.pm.Save(state))

	res, err := te.Sync(context.Background(), mustRange(t, "202302", "202302"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.SkippedPeriods)
	assert.Equal(t, 2, res.Fetched)
}

func TestSyncFetchesExactlyTheMissingItem(t *testing.T) {
	entries := monthEntries("202403", 10)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	te.storage.put(entries[:9])

	r := mustRange(t, "202403", "202403")
	plan := reconcile.Reconcile(r, entries, te.storage, progress.NewState(),
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Len(t, plan.Missing, 1)

	res, err := te.Sync(context.Background(), r, plan)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, []string{"cdn/202403/202403-10.jpg"}, te.fetcher.fetched)
}

func TestSyncWithoutPlanSkipsPresent(t *testing.T) {
	entries := monthEntries("202403", 10)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	te.storage.put(entries[:9])

	res, err := te.Sync(context.Background(), mustRange(t, "202403", "202403"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 9, res.Skipped)
	assert.Equal(t, 1, te.fetcher.GetFetchCount())
}

func TestSyncFailureIsIsolated(t *testing.T) {
	entries := monthEntries("202402", 3)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	te.fetcher.images[te.fetcher.CDNURL(entries[1].Month, entries[1].ItemID)] = []byte("<html>not found</html>")

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Transient, "a bad payload is not transient")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, entries[1].ItemID, res.Failures[0].Item)

	state, err := te.pm.Load()
	require.NoError(t, err)
	assert.True(t, state.FailedItems.Has(progress.ItemKey(entries[1].Month, entries[1].ItemID)))
	assert.False(t, te.storage.IsPresent(entries[1].Filename))
}

func TestDetailFirstRecordsCaption(t *testing.T) {
	entries := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDetailFirst})
	id := entries[0].ItemID
	te.fetcher.details[id] = &archive.Detail{
		ItemID:  id,
		Caption: "Frozen lake, Finland (© Jane Doe/Getty Images)(Bing United States)",
		ImageURLs: map[int]string{
			1920: "img/1920.jpg",
			3840: "img/3840.jpg",
		},
	}
	te.fetcher.images["img/3840.jpg"] = goodJPEG

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, []string{"img/3840.jpg"}, te.fetcher.fetched)

	meta, ok := te.meta.Get(entries[0].Filename)
	require.True(t, ok)
	assert.Equal(t, "Frozen lake, Finland", meta.Description)
	assert.Equal(t, "Jane Doe", meta.Photographer)
	assert.Equal(t, "img/3840.jpg", meta.SourceURL)
	assert.Equal(t, "2024-02-01", meta.Date)
}

func TestDetailFirstFallsBackToCDN(t *testing.T) {
	entries := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDetailFirst})
	te.fetcher.serveCDN(entries)

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
}

func TestCDNFirstFallsBackToDetail(t *testing.T) {
	entries := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyCDNFirst})
	id := entries[0].ItemID
	te.fetcher.details[id] = &archive.Detail{ItemID: id, ImageURLs: map[int]string{2560: "img/2560.jpg"}}
	te.fetcher.images["img/2560.jpg"] = goodJPEG

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, []string{"cdn/202402/202402-01.jpg", "img/2560.jpg"}, te.fetcher.fetched)
}

func TestDetailWithoutPreferredWidthReportsOffered(t *testing.T) {
	entries := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDetailFirst})
	te.fetcher.noCDN = true
	id := entries[0].ItemID
	te.fetcher.details[id] = &archive.Detail{ItemID: id, ImageURLs: map[int]string{
		800:  "img/800.jpg",
		1024: "img/1024.jpg",
	}}

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error(), "page offers [1024 800]")
	assert.Equal(t, 0, te.fetcher.GetFetchCount())
}

func TestDirectOnlyWithoutCDNFails(t *testing.T) {
	entries := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.noCDN = true

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, te.fetcher.GetFetchCount())
}

func TestSyncFallsBackToLiveListing(t *testing.T) {
	te := newTestEngine(t, newStore(), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.listings["202402"] = []archive.ListingEntry{
		{Position: 1, ItemID: "B"},
		{Position: 2, ItemID: "A"},
	}
	te.fetcher.images["cdn/202402/A.jpg"] = goodJPEG
	te.fetcher.images["cdn/202402/B.jpg"] = goodJPEG

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, te.fetcher.listCalls)
	assert.True(t, te.storage.IsPresent("202402_A.jpg"))
}

func TestSyncReverseOrder(t *testing.T) {
	jan := monthEntries("202401", 1)
	feb := monthEntries("202402", 1)
	te := newTestEngine(t, newStore(jan, feb), Options{Strategy: config.StrategyDirectOnly, Reverse: true})
	te.fetcher.serveCDN(jan)
	te.fetcher.serveCDN(feb)

	_, err := te.Sync(context.Background(), mustRange(t, "202401", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cdn/202402/202402-01.jpg", "cdn/202401/202401-01.jpg"}, te.fetcher.fetched)
}

func TestSyncDryRunFetchesNothing(t *testing.T) {
	entries := monthEntries("202402", 3)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly, DryRun: true})
	te.storage.put(entries[:1])

	res, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Len(t, res.Planned, 2)
	assert.Equal(t, 0, te.fetcher.GetFetchCount())
	assert.False(t, te.pm.Exists())
}

func TestSyncStopsOnCancel(t *testing.T) {
	entries := monthEntries("202402", 3)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := te.Sync(ctx, mustRange(t, "202402", "202402"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, te.fetcher.GetFetchCount())
}

func TestFetchItemLogsSize(t *testing.T) {
	entries := monthEntries("202402", 1)
	log := logger.NewTestLogger()
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries)
	te.Engine.logger = log

	_, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	require.True(t, log.HasMessage("Item saved"))
	saved := log.GetMessagesByLevel("INFO")
	var ids []interface{}
	for _, m := range saved {
		if m.Message == "Item saved" {
			id, _ := m.Field("item_id")
			ids = append(ids, id)
		}
	}
	assert.Equal(t, []interface{}{"202402-01"}, ids)
}

// recordingObserver keeps every observer callback in order
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) ItemStarted(item catalog.Entry) { r.add("start " + item.ItemID) }
func (r *recordingObserver) ItemDone(item catalog.Entry, size int64) {
	r.add(fmt.Sprintf("done %s %d", item.ItemID, size))
}
func (r *recordingObserver) ItemFailed(item catalog.Entry, err error) { r.add("fail " + item.ItemID) }

func (r *recordingObserver) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestSyncNotifiesObserver(t *testing.T) {
	entries := monthEntries("202402", 2)
	te := newTestEngine(t, newStore(entries), Options{Strategy: config.StrategyDirectOnly})
	te.fetcher.serveCDN(entries[:1])
	obs := &recordingObserver{}
	te.SetObserver(obs)

	_, err := te.Sync(context.Background(), mustRange(t, "202402", "202402"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start 202402-01",
		fmt.Sprintf("done 202402-01 %d", len(goodJPEG)),
		"start 202402-02",
		"fail 202402-02",
	}, obs.events)
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(errs.New(errs.ErrorTypeNetwork, "reset")))
	assert.True(t, transient(fmt.Errorf("cdn: %w", errs.New(errs.ErrorTypeServerError, "502"))))
	assert.False(t, transient(errs.New(errs.ErrorTypeNotFound, "gone")))
	assert.False(t, transient(fmt.Errorf("no CDN configured")))
}
