// Package memory is the local document store agents use for long-lived
// context. Documents are plain files; compaction trims them when they grow
// past a size ceiling.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store reads and compacts named documents under a single directory
type Store struct {
	dir string
}

// NewStore creates a document store rooted at dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Read returns a document's contents; a missing document reads as empty
func (s *Store) Read(name string) (string, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading document %s: %w", name, err)
	}
	return string(data), nil
}

// Append adds a line to a document
func (s *Store) Append(name, text string) error {
	f, err := os.OpenFile(s.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening document %s: %w", name, err)
	}
	defer f.Close()

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("appending to document %s: %w", name, err)
	}
	return nil
}

// Compact trims a document down to at most maxSize bytes, keeping the most
// recent whole lines under a compaction marker. Returns true if the
// document was rewritten.
func (s *Store) Compact(name string, maxSize int64) (bool, error) {
	path := s.path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting document %s: %w", name, err)
	}
	if info.Size() <= maxSize {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading document %s: %w", name, err)
	}

	header := fmt.Sprintf("[compacted %s: older entries dropped]\n", time.Now().Format("2006-01-02"))
	budget := maxSize - int64(len(header))
	if budget < 0 {
		budget = 0
	}

	tail := string(data)
	if int64(len(tail)) > budget {
		tail = tail[int64(len(tail))-budget:]
		// Drop the partial first line so the document starts cleanly
		if idx := strings.IndexByte(tail, '\n'); idx >= 0 {
			tail = tail[idx+1:]
		}
	}

	if err := os.WriteFile(path, []byte(header+tail), 0644); err != nil {
		return false, fmt.Errorf("rewriting document %s: %w", name, err)
	}
	return true, nil
}

// CompactAll compacts every document in the store, returning how many were
// rewritten
func (s *Store) CompactAll(maxSize int64) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading memory directory: %w", err)
	}

	compacted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		done, err := s.Compact(entry.Name(), maxSize)
		if err != nil {
			return compacted, err
		}
		if done {
			compacted++
		}
	}
	return compacted, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}
