// Package gridmeta persists per-map grid settings keyed by map filename.
//
// The whole mapping lives in one JSON document. Every Write and Remove is a
// read-modify-write of that document; the Store serializes them within the
// process, but two processes sharing the same file can still lose an update
// (the last writer of the whole document wins).
package gridmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/rs/zerolog/log"
)

// DocumentName is the file name of the metadata document inside a map directory
const DocumentName = "metadata.json"

// Record is the metadata kept for one map file
type Record struct {
	Grid *session.GridSettings `json:"grid,omitempty"`
}

// Metadata maps a map filename to its record
type Metadata map[string]Record

// Store reads and writes the metadata document
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the document at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// NewStoreInDir creates a store backed by metadata.json inside dir
func NewStoreInDir(dir string) *Store {
	return NewStore(filepath.Join(dir, DocumentName))
}

// Path returns the location of the backing document
func (s *Store) Path() string {
	return s.path
}

// document is the metadata file as stored. Records are kept as raw JSON so a
// rewrite keeps the content of records it did not touch.
type document map[string]json.RawMessage

// ReadAll returns the whole mapping. A missing or unparseable document is an
// empty mapping, not an error. Records that do not decode are skipped.
func (s *Store) ReadAll(ctx context.Context) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	all := make(Metadata, len(doc))
	for filename, raw := range doc {
		if rec, ok := s.decodeRecord(filename, raw); ok {
			all[filename] = rec
		}
	}
	return all, nil
}

// Grid returns the stored grid for filename, or nil if there is none
func (s *Store) Grid(ctx context.Context, filename string) (*session.GridSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := doc[filename]
	if !ok {
		return nil, nil
	}
	rec, _ := s.decodeRecord(filename, raw)
	return rec.Grid, nil
}

// Write stores grid under filename. Other keys of that record and all other
// records are preserved.
func (s *Store) Write(ctx context.Context, filename string, grid session.GridSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}

	fields := map[string]json.RawMessage{}
	if raw, ok := doc[filename]; ok {
		// a record that is not an object is replaced outright
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	encoded, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	fields["grid"] = encoded

	rec, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode grid metadata record: %w", err)
	}
	doc[filename] = rec
	return s.write(ctx, doc)
}

// Remove deletes the record for filename. Removing an absent record leaves
// the document untouched.
func (s *Store) Remove(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	if _, ok := doc[filename]; !ok {
		return nil
	}
	delete(doc, filename)
	return s.write(ctx, doc)
}

func (s *Store) decodeRecord(filename string, raw json.RawMessage) (Record, bool) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Warn().
			Err(err).
			Str("path", s.path).
			Str("filename", filename).
			Msg("skipping unreadable grid metadata record")
		return Record{}, false
	}
	return rec, true
}

func (s *Store) read(ctx context.Context) (document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, nil
		}
		return nil, fmt.Errorf("read grid metadata: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		log.Warn().
			Err(err).
			Str("path", s.path).
			Msg("grid metadata unreadable, treating as empty")
		return document{}, nil
	}
	return doc, nil
}

// write replaces the document via a temp file and rename so readers never
// observe a partially written file.
func (s *Store) write(ctx context.Context, doc document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode grid metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, DocumentName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace grid metadata: %w", err)
	}

	log.Debug().
		Str("path", s.path).
		Int("entries", len(doc)).
		Msg("grid metadata written")
	return nil
}
