package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDir is the directory name searched for when no corpus root is
// configured.
const DefaultDir = "memory-bank"

// Reader is the read contract the engine consumes from storage.
// Abstracted for testability (DIP).
type Reader interface {
	ReadDocument(ctx context.Context, id string) (Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
}

// FileStore implements Reader over a directory of markdown files.
type FileStore struct {
	root string
}

// NewFileStore creates a filesystem-backed corpus rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Root returns the absolute corpus directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the filesystem path of a document id.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id))
}

// ReadDocument reads and parses a single document. A missing file is
// reported as ErrNotFound.
func (s *FileStore) ReadDocument(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	clean := normalizeID(id)
	if clean == "" {
		return Document{}, fmt.Errorf("%w: invalid document id %q", ErrNotFound, id)
	}

	path := s.Path(clean)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, id)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	return NewDocument(clean, data, info.ModTime()), nil
}

// ListDocumentIDs enumerates every markdown file under the root, as
// slash-separated ids relative to it, sorted. Hidden directories are skipped.
func (s *FileStore) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsDocumentFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsDocumentFile reports whether a file name is a memory-bank document.
func IsDocumentFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md") && !strings.HasPrefix(name, ".")
}

// FindRoot walks up from start looking for a DefaultDir directory. If none
// is found, it returns start/DefaultDir so callers can report a clear path.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}

	current := dir
	for {
		candidate := filepath.Join(current, DefaultDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root; the caller decides what to do.
			return filepath.Join(dir, DefaultDir), nil
		}
		current = parent
	}
}
