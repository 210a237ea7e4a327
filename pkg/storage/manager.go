package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"wallsync/internal/fileutil"
)

// Index is a snapshot of item filenames present on disk
type Index map[string]struct{}

// Has reports whether filename is present
func (ix Index) Has(filename string) bool {
	_, ok := ix[filename]
	return ok
}

// Len returns the number of present items
func (ix Index) Len() int {
	return len(ix)
}

// Names returns the present filenames in ascending order
func (ix Index) Names() []string {
	out := make([]string, 0, len(ix))
	for name := range ix {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Manager owns the output directory. Items are written into the root; the
// archive subdirectories (e.g. high/) are where an external organizer moves
// them later, so presence checks look in both.
type Manager struct {
	outputDir string
	subdirs   []string
	minSize   int64

	mu      sync.RWMutex
	present Index
}

// NewManager creates a new storage manager and scans existing files
func NewManager(outputDir string, subdirs []string, minSize int64) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m := &Manager{
		outputDir: outputDir,
		subdirs:   subdirs,
		minSize:   minSize,
	}
	if _, err := m.Rescan(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}
	return m, nil
}

// Rescan rebuilds the in-memory index from disk
func (m *Manager) Rescan() (Index, error) {
	present := make(Index)
	dirs := append([]string{m.outputDir}, m.subdirPaths()...)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isItemFile(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.Size() >= m.minSize {
				present[entry.Name()] = struct{}{}
			}
		}
	}

	m.mu.Lock()
	m.present = present
	m.mu.Unlock()
	return m.Index(), nil
}

// Index returns a copy of the current presence index
func (m *Manager) Index() Index {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(Index, len(m.present))
	for name := range m.present {
		out[name] = struct{}{}
	}
	return out
}

// IsPresent checks the disk directly for filename, in the root and every
// archive subdirectory, honouring the minimum size
func (m *Manager) IsPresent(filename string) bool {
	_, ok := m.Locate(filename)
	return ok
}

// Locate returns the path filename was found at. Archive subdirectories
// are searched before the root.
func (m *Manager) Locate(filename string) (string, bool) {
	for _, dir := range append(m.subdirPaths(), m.outputDir) {
		path := filepath.Join(dir, filename)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() && info.Size() >= m.minSize {
			m.mu.Lock()
			m.present[filename] = struct{}{}
			m.mu.Unlock()
			return path, true
		}
	}
	return "", false
}

// WriteItem streams r into the output root under filename atomically and
// returns the number of bytes written
func (m *Manager) WriteItem(r io.Reader, filename string) (int64, error) {
	if err := validateFilename(filename); err != nil {
		return 0, err
	}

	path := filepath.Join(m.outputDir, filename)
	n, err := fileutil.CopyAtomic(path, 0644, r)
	if err != nil {
		return 0, fmt.Errorf("failed to save %s: %w", filename, err)
	}

	if n >= m.minSize {
		m.mu.Lock()
		m.present[filename] = struct{}{}
		m.mu.Unlock()
	}
	return n, nil
}

// Path returns where filename is written
func (m *Manager) Path(filename string) string {
	return filepath.Join(m.outputDir, filename)
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// MinFileSize returns the size below which a file does not count as present
func (m *Manager) MinFileSize() int64 {
	return m.minSize
}

// Count returns the number of indexed items
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.present)
}

func (m *Manager) subdirPaths() []string {
	paths := make([]string, 0, len(m.subdirs))
	for _, sub := range m.subdirs {
		if sub == "" {
			continue
		}
		paths = append(paths, filepath.Join(m.outputDir, sub))
	}
	return paths
}

func isItemFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".jpg") && !strings.HasPrefix(name, ".")
}

func validateFilename(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid item filename %q", name)
	}
	return nil
}
