package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Document is the persisted form of the catalog.
type Document struct {
	Items map[string]Recording `json:"items"`
}

// Store persists the whole catalog document at once.
type Store interface {
	// Load returns an empty document when nothing has been persisted yet.
	Load() (Document, error)
	Save(Document) error
}

// FileStore keeps the document in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a JSON file store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{Items: map[string]Recording{}}, nil
		}
		return Document{}, fmt.Errorf("read catalog: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse catalog %s: %w", s.path, err)
	}
	if doc.Items == nil {
		doc.Items = map[string]Recording{}
	}
	return doc, nil
}

// Save rewrites the document atomically (temp file + rename).
func (s *FileStore) Save(doc Document) error {
	if doc.Items == nil {
		doc.Items = map[string]Recording{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".data-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
