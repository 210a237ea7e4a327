package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "scrape_state.json"), logger.NewTestLogger())
	m.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestLoadMissingFileGivesEmptyState(t *testing.T) {
	m := newTestManager(t)

	state, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, state.DoneMonths.Len())
	assert.Equal(t, CurrentVersion, state.Version)
	assert.False(t, m.Exists())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	feb := period.MustParse("202402")

	state := NewState()
	state.MarkDone(feb)
	state.RecordItem(feb, "OHR.Foo")
	state.RecordFailure(feb, "OHR.Bar")
	state.Cursor = "202402"
	require.NoError(t, m.Save(state))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsDone(feb))
	assert.True(t, loaded.DoneItems.Has("202402/OHR.Foo"))
	assert.True(t, loaded.FailedItems.Has("202402/OHR.Bar"))
	assert.Equal(t, "202402", loaded.Cursor)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), loaded.UpdatedAt)
}

func TestSavedFileUsesSortedArrays(t *testing.T) {
	m := newTestManager(t)

	state := NewState()
	state.MarkDone(period.MustParse("202402"))
	state.MarkDone(period.MustParse("202312"))
	require.NoError(t, m.Save(state))

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []interface{}{"202312", "202402"}, raw["done_months"])
	assert.Equal(t, []interface{}{}, raw["done_images"])
	assert.Contains(t, raw, "failed_images")
}

func TestLoadAcceptsScraperStateWithoutVersion(t *testing.T) {
	m := newTestManager(t)
	content := `{"done_months": ["202401"], "done_images": ["202401/a"]}`
	require.NoError(t, os.WriteFile(m.Path(), []byte(content), 0644))

	state, err := m.Load()
	require.NoError(t, err)
	assert.True(t, state.IsDone(period.MustParse("202401")))
	assert.NotNil(t, state.FailedItems)
	assert.Equal(t, CurrentVersion, state.Version)
}

func TestLoadReopensCurrentMonth(t *testing.T) {
	m := newTestManager(t)
	content := `{"done_months": ["202402", "202403"]}`
	require.NoError(t, os.WriteFile(m.Path(), []byte(content), 0644))

	state, err := m.Load()
	require.NoError(t, err)
	assert.True(t, state.IsDone(period.MustParse("202402")))
	assert.False(t, state.IsDone(period.MustParse("202403")), "the open month is never done")
}

func TestSaveNeverWritesCurrentMonthDone(t *testing.T) {
	m := newTestManager(t)
	state := NewState()
	state.MarkDone(period.MustParse("202403"))
	require.NoError(t, m.Save(state))

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []interface{}{}, raw["done_months"])
}

func TestLoadCorruptFileIsStateCorrupt(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.Path(), []byte(`{"done_months": [`), 0644))

	_, err := m.Load()
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeStateCorrupt))

	// the corrupt file is left for inspection
	data, readErr := os.ReadFile(m.Path())
	require.NoError(t, readErr)
	assert.Equal(t, `{"done_months": [`, string(data))
}

func TestItemBookkeeping(t *testing.T) {
	mar := period.MustParse("20240307")
	state := NewState()

	state.RecordFailure(mar, "x")
	assert.True(t, state.FailedItems.Has("202403/x"))

	state.RecordItem(mar, "x")
	assert.True(t, state.DoneItems.Has("202403/x"))
	assert.False(t, state.FailedItems.Has("202403/x"))
}

func TestReopenAndDonePeriods(t *testing.T) {
	state := NewState()
	state.DoneMonths.Add("garbage")
	state.MarkDone(period.MustParse("202402"))
	state.MarkDone(period.MustParse("202401"))
	state.Reopen(period.MustParse("202402"))

	assert.Equal(t, []period.Period{period.MustParse("202401")}, state.DonePeriods())
}

func TestReset(t *testing.T) {
	m := newTestManager(t)
	state := NewState()
	state.MarkDone(period.MustParse("202401"))
	require.NoError(t, m.Save(state))

	fresh, err := m.Reset()
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.DoneMonths.Len())

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.DoneMonths.Len())
	assert.True(t, m.Exists())
}
