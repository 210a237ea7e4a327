package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"wallsync/internal/fileutil"
	errs "wallsync/pkg/errors"
	"wallsync/pkg/logger"
	"wallsync/pkg/period"
)

// CurrentVersion is written into every saved state file
const CurrentVersion = 1

// Set is a string set persisted as a sorted JSON array
type Set map[string]struct{}

// NewSet builds a set from values
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s Set) Add(v string)    { s[v] = struct{}{} }
func (s Set) Remove(v string) { delete(s, v) }
func (s Set) Len() int        { return len(s) }

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// Sorted returns the members in ascending order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewSet(values...)
	return nil
}

// State is the persisted progress record. DoneMonths holds YYYYMM keys;
// DoneItems and FailedItems hold "YYYYMM/<item id>" keys.
type State struct {
	DoneMonths  Set       `json:"done_months"`
	DoneItems   Set       `json:"done_images"`
	FailedItems Set       `json:"failed_images"`
	Cursor      string    `json:"cursor,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Version     int       `json:"version"`
}

// NewState returns an empty state
func NewState() *State {
	return &State{
		DoneMonths:  NewSet(),
		DoneItems:   NewSet(),
		FailedItems: NewSet(),
		Version:     CurrentVersion,
	}
}

// ItemKey formats the bookkeeping key for an item
func ItemKey(month period.Period, itemID string) string {
	return month.MonthOf().String() + "/" + itemID
}

// IsDone reports whether month is recorded as fully captured
func (s *State) IsDone(month period.Period) bool {
	return s.DoneMonths.Has(month.MonthOf().String())
}

// MarkDone records month as fully captured
func (s *State) MarkDone(month period.Period) {
	s.DoneMonths.Add(month.MonthOf().String())
}

// Reopen drops month from the done set
func (s *State) Reopen(month period.Period) {
	s.DoneMonths.Remove(month.MonthOf().String())
}

// RecordItem marks an item present and clears any earlier failure
func (s *State) RecordItem(month period.Period, itemID string) {
	key := ItemKey(month, itemID)
	s.DoneItems.Add(key)
	s.FailedItems.Remove(key)
}

// RecordFailure marks an item failed for this run
func (s *State) RecordFailure(month period.Period, itemID string) {
	key := ItemKey(month, itemID)
	s.FailedItems.Add(key)
	s.DoneItems.Remove(key)
}

// DonePeriods returns the done months in ascending order, skipping
// entries that do not parse
func (s *State) DonePeriods() []period.Period {
	var out []period.Period
	for _, v := range s.DoneMonths.Sorted() {
		if p, err := period.Parse(v); err == nil {
			out = append(out, p.MonthOf())
		}
	}
	return out
}

// normalize fills nil sets left by a file that omitted a key
func (s *State) normalize() {
	if s.DoneMonths == nil {
		s.DoneMonths = NewSet()
	}
	if s.DoneItems == nil {
		s.DoneItems = NewSet()
	}
	if s.FailedItems == nil {
		s.FailedItems = NewSet()
	}
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
}

// Manager loads and saves the progress file
type Manager struct {
	path   string
	logger logger.Logger
	now    func() time.Time
}

// NewManager creates a manager for the state file at path
func NewManager(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{path: path, logger: log, now: time.Now}
}

// SetClock overrides the manager's notion of now
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Path returns the state file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the state file. A missing file yields an empty state; an
// unreadable one is reported as StateCorrupt and never silently reset.
func (m *Manager) Load() (*State, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.DebugWithFields("No progress file, starting fresh", map[string]interface{}{
				"path": m.path,
			})
			return NewState(), nil
		}
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errs.StateCorrupt(m.path, err)
	}
	state.normalize()
	m.reopenCurrent(state)

	m.logger.DebugWithFields("Progress loaded", map[string]interface{}{
		"path":        m.path,
		"done_months": state.DoneMonths.Len(),
		"done_items":  state.DoneItems.Len(),
		"failed":      state.FailedItems.Len(),
	})
	return state, nil
}

// Save writes state atomically
func (m *Manager) Save(state *State) error {
	state.normalize()
	m.reopenCurrent(state)
	state.UpdatedAt = m.now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	data = append(data, '\n')

	if err := fileutil.WriteFileAtomic(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	m.logger.DebugWithFields("Progress saved", map[string]interface{}{
		"path":        m.path,
		"done_months": state.DoneMonths.Len(),
	})
	return nil
}

// Reset replaces the state file with an empty state
func (m *Manager) Reset() (*State, error) {
	state := NewState()
	if err := m.Save(state); err != nil {
		return nil, err
	}
	m.logger.InfoWithFields("Progress reset", map[string]interface{}{"path": m.path})
	return state, nil
}

// Exists checks if a state file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// reopenCurrent drops the current month from the done set. State files
// written by older scrapers mark every processed month done, the open one
// included.
func (m *Manager) reopenCurrent(state *State) {
	cur := period.Current(m.now())
	if !state.IsDone(cur) {
		return
	}
	state.Reopen(cur)
	m.logger.InfoWithFields("Current month was marked done, reopened", map[string]interface{}{
		"period": cur.String(),
	})
}
