package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"wallsync/internal/fileutil"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/period"
)

// DateLayout is how dates are written in the catalog file
const DateLayout = "2006-01-02"

var header = []string{"date", "yyyymm", "image_id", "filename"}

// Entry maps one calendar date to the item the archive showed that day
type Entry struct {
	Date     time.Time
	Month    period.Period
	ItemID   string
	Filename string
}

// NewEntry builds an entry with the standard filename
func NewEntry(date time.Time, month period.Period, itemID string) Entry {
	month = month.MonthOf()
	return Entry{
		Date:     time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Month:    month,
		ItemID:   itemID,
		Filename: Filename(month, itemID),
	}
}

// Filename returns the on-disk name of an item: YYYYMM_<id>.jpg
func Filename(month period.Period, itemID string) string {
	return month.MonthOf().String() + "_" + itemID + ".jpg"
}

// Equal compares two entries field by field
func (e Entry) Equal(o Entry) bool {
	return e.Date.Equal(o.Date) && e.Month == o.Month && e.ItemID == o.ItemID && e.Filename == o.Filename
}

// InMonth reports whether the entry's date lies in the month it was listed under
func (e Entry) InMonth() bool {
	return period.FromTime(e.Date) == e.Month
}

// DateKey formats the key entries are stored under
func (e Entry) DateKey() string {
	return e.Date.Format(DateLayout)
}

// Store is the date to item table, persisted as CSV sorted by date
type Store struct {
	path string

	mu     sync.RWMutex
	byDate map[string]Entry
}

// NewStore returns an empty store that saves to path
func NewStore(path string) *Store {
	return &Store{path: path, byDate: make(map[string]Entry)}
}

// Load reads the catalog at path. A missing file yields an empty store; a
// file that cannot be parsed is StateCorrupt.
func Load(path string) (*Store, error) {
	s := NewStore(path)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	if err := s.read(f); err != nil {
		return nil, errs.StateCorrupt(path, err)
	}
	return s, nil
}

func (s *Store) read(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range header {
		if _, ok := col[name]; !ok {
			return fmt.Errorf("missing column %q", name)
		}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < len(head) {
			return fmt.Errorf("line %d: expected %d fields, got %d", line, len(head), len(rec))
		}

		date, err := time.Parse(DateLayout, rec[col["date"]])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		month, err := period.Parse(rec[col["yyyymm"]])
		if err != nil || month.IsDay() {
			return fmt.Errorf("line %d: bad month %q", line, rec[col["yyyymm"]])
		}
		id := rec[col["image_id"]]
		if id == "" {
			return fmt.Errorf("line %d: empty image_id", line)
		}

		e := NewEntry(date, month, id)
		if name := rec[col["filename"]]; name != "" {
			e.Filename = name
		}
		s.byDate[e.DateKey()] = e
	}
}

// Path returns the catalog file location
func (s *Store) Path() string {
	return s.path
}

// Save writes the catalog atomically, rows sorted by date
func (s *Store) Save() error {
	entries := s.Entries()

	err := fileutil.WriteAtomic(s.path, 0644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, e := range entries {
			if err := cw.Write([]string{e.DateKey(), e.Month.String(), e.ItemID, e.Filename}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}

// Upsert stores e under its date, replacing whatever was there
func (s *Store) Upsert(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDate[e.DateKey()] = e
}

// ReplaceMonth drops every row recorded for month and stores entries in
// their place. An entry dated outside its own month never displaces another
// month's row; it is returned as a collision instead. An in-month entry
// always wins. The bool reports whether the store changed.
func (s *Store) ReplaceMonth(month period.Period, entries []Entry) (collisions []Entry, changed bool) {
	month = month.MonthOf()

	s.mu.Lock()
	defer s.mu.Unlock()

	before := make(map[string]Entry)
	for key, e := range s.byDate {
		if e.Month == month {
			before[key] = e
			delete(s.byDate, key)
		}
	}

	after := make(map[string]Entry, len(entries))
	for _, e := range entries {
		key := e.DateKey()
		if existing, ok := s.byDate[key]; ok && existing.Month != month && !e.InMonth() {
			collisions = append(collisions, e)
			continue
		}
		s.byDate[key] = e
		after[key] = e
	}

	if len(before) != len(after) {
		return collisions, true
	}
	for key, e := range after {
		if old, ok := before[key]; !ok || !old.Equal(e) {
			return collisions, true
		}
	}
	return collisions, false
}

// Lookup returns the entry for a calendar date
func (s *Store) Lookup(date time.Time) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byDate[date.Format(DateLayout)]
	return e, ok
}

// Month returns the entries recorded for month, oldest first
func (s *Store) Month(month period.Period) []Entry {
	month = month.MonthOf()

	s.mu.RLock()
	var out []Entry
	for _, e := range s.byDate {
		if e.Month == month {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sortByDate(out)
	return out
}

// Count returns how many entries month has
func (s *Store) Count(month period.Period) int {
	month = month.MonthOf()

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.byDate {
		if e.Month == month {
			n++
		}
	}
	return n
}

// Entries returns every entry, oldest first
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.byDate))
	for _, e := range s.byDate {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortByDate(out)
	return out
}

// InRange returns the entries whose month lies in r, oldest first
func (s *Store) InRange(r period.Range) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if r.Contains(e.Month) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDate)
}

func sortByDate(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
}
