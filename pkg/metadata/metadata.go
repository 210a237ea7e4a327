package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"wallsync/internal/fileutil"
	errs "wallsync/pkg/errors"
)

// ItemMetadata describes one captured wallpaper
type ItemMetadata struct {
	ItemID   string `json:"item_id"`
	Month    string `json:"yyyymm"`
	Filename string `json:"filename"`
	Date     string `json:"date,omitempty"`

	// Caption text as shown on the detail page, plus its parsed parts
	Caption      string `json:"caption,omitempty"`
	Description  string `json:"description,omitempty"`
	Photographer string `json:"photographer,omitempty"`
	Company      string `json:"company,omitempty"`

	SourceURL    string    `json:"source_url,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

var regionSuffix = regexp.MustCompile(`\s*\(Bing [^()]*\)\s*$`)

// ParseCaption splits "Description (© Photographer/Company)(Bing United States)"
// into its parts. Captions that do not follow the pattern are kept whole as
// the description.
func ParseCaption(caption string) (description, photographer, company string) {
	caption = strings.TrimSpace(caption)
	cleaned := strings.TrimSpace(regionSuffix.ReplaceAllString(caption, ""))

	desc, credit, found := strings.Cut(cleaned, " (© ")
	if !found {
		return caption, "", ""
	}
	credit = strings.TrimRight(credit, ")")
	if who, org, ok := strings.Cut(credit, "/"); ok {
		return strings.TrimSpace(desc), strings.TrimSpace(who), strings.TrimSpace(org)
	}
	return strings.TrimSpace(desc), strings.TrimSpace(credit), ""
}

// SetCaption stores caption and its parsed parts
func (m *ItemMetadata) SetCaption(caption string) {
	m.Caption = strings.TrimSpace(caption)
	m.Description, m.Photographer, m.Company = ParseCaption(m.Caption)
}

// GetFormattedCaption returns a caption truncated for display
func (m *ItemMetadata) GetFormattedCaption(maxLength int) string {
	caption := m.Description
	if caption == "" {
		caption = m.Caption
	}
	caption = strings.Join(strings.Fields(caption), " ")

	runes := []rune(caption)
	if maxLength > 3 && len(runes) > maxLength {
		return string(runes[:maxLength-3]) + "..."
	}
	return caption
}

// Credit returns "Photographer/Company" or whichever half is known
func (m *ItemMetadata) Credit() string {
	switch {
	case m.Photographer != "" && m.Company != "":
		return m.Photographer + "/" + m.Company
	case m.Photographer != "":
		return m.Photographer
	default:
		return m.Company
	}
}

// Index is the metadata sidecar: one JSON document keyed by item filename
type Index struct {
	path string

	mu    sync.RWMutex
	items map[string]*ItemMetadata
	dirty bool
}

// Load reads the sidecar at path. A missing file yields an empty index.
func Load(path string) (*Index, error) {
	ix := &Index{path: path, items: make(map[string]*ItemMetadata)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &ix.items); err != nil {
		return nil, errs.StateCorrupt(path, err)
	}
	if ix.items == nil {
		ix.items = make(map[string]*ItemMetadata)
	}
	return ix, nil
}

// Put records meta under its filename
func (ix *Index) Put(meta *ItemMetadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.items[meta.Filename] = meta
	ix.dirty = true
}

// Get returns the metadata recorded for filename
func (ix *Index) Get(filename string) (*ItemMetadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	meta, ok := ix.items[filename]
	return meta, ok
}

// Len returns the number of recorded items
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.items)
}

// Filenames returns recorded filenames in ascending order
func (ix *Index) Filenames() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.items))
	for name := range ix.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Save writes the sidecar atomically if anything changed since Load
func (ix *Index) Save() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.dirty {
		return nil
	}

	data, err := json.MarshalIndent(ix.items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(ix.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	ix.dirty = false
	return nil
}
