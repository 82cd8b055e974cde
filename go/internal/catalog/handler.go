// Package catalog serves the map and artwork image directories over HTTP:
// listing, upload, deletion and raw file reads.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/mcdev12/tabletop/go/internal/config"
	"github.com/mcdev12/tabletop/go/internal/gridmeta"
	"github.com/mcdev12/tabletop/go/internal/session"
	"github.com/rs/zerolog/log"
)

// multipart framing allowance on top of the upload cap
const multipartOverhead = 1 << 20

// GridMetadata is what a grid-mapped catalog needs from the metadata store
type GridMetadata interface {
	ReadAll(ctx context.Context) (gridmeta.Metadata, error)
	Remove(ctx context.Context, filename string) error
}

// Entry describes one image in a catalog
type Entry struct {
	Filename     string                `json:"filename"`
	Name         string                `json:"name"`
	Size         int64                 `json:"size"`
	LastModified int64                 `json:"lastModified"` // epoch ms
	Grid         *session.GridSettings `json:"grid,omitempty"`
}

// ListResponse is the body of a catalog listing. Every catalog uses the
// "maps" key.
type ListResponse struct {
	Maps []Entry `json:"maps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type deleteRequest struct {
	Filename *string `json:"filename"`
}

// Handler serves one catalog directory
type Handler struct {
	catalog config.Catalog
	grids   GridMetadata
}

// NewHandler creates a handler for c. grids is only consulted when the
// catalog carries grid metadata and may be nil otherwise.
func NewHandler(c config.Catalog, grids GridMetadata) *Handler {
	if !c.GridMetadata {
		grids = nil
	}
	return &Handler{catalog: c, grids: grids}
}

// Name returns the catalog name
func (h *Handler) Name() string {
	return h.catalog.Name
}

// RegisterRoutes registers the catalog under /api/<name>
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/" + h.catalog.Name
	mux.HandleFunc("GET "+base, h.HandleList)
	mux.HandleFunc("POST "+base, h.HandleUpload)
	mux.HandleFunc("DELETE "+base, h.HandleDelete)
	mux.HandleFunc("GET "+base+"/{filename}", h.HandleFile)
	mux.HandleFunc("GET "+base+"/{$}", h.HandleFile)

	log.Info().
		Str("catalog", h.catalog.Name).
		Str("dir", h.catalog.Dir).
		Bool("grid_metadata", h.grids != nil).
		Msg("catalog routes registered")
}

// HandleList lists the catalog's image files
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.List(r.Context())
	if err != nil {
		h.internalError(w, err, "failed to list catalog")
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Maps: entries})
}

// List returns the regular image files in the catalog directory, with their
// stored grid when the catalog is grid-mapped
func (h *Handler) List(ctx context.Context) ([]Entry, error) {
	if err := h.ensureDir(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(h.catalog.Dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	var metadata gridmeta.Metadata
	if h.grids != nil {
		if metadata, err = h.grids.ReadAll(ctx); err != nil {
			return nil, err
		}
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !h.isImage(de.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(h.catalog.Dir, de.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entry := toEntry(de.Name(), info)
		if rec, ok := metadata[de.Name()]; ok {
			entry.Grid = rec.Grid
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HandleUpload stores the multipart field "file" under its base name
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.ensureDir(); err != nil {
		h.internalError(w, err, "failed to prepare catalog dir")
		return
	}

	limit := h.catalog.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Expected form-data field `file`")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Expected form-data field `file`")
		return
	}
	defer file.Close()

	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	filename, ok := sanitize(header.Filename)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid filename")
		return
	}

	info, err := h.store(filename, file)
	if err != nil {
		h.internalError(w, err, "failed to store upload")
		return
	}

	entry := toEntry(filename, info)
	if h.grids != nil {
		metadata, err := h.grids.ReadAll(r.Context())
		if err != nil {
			h.internalError(w, err, "failed to read grid metadata")
			return
		}
		if rec, ok := metadata[filename]; ok {
			entry.Grid = rec.Grid
		}
	}

	log.Info().
		Str("catalog", h.catalog.Name).
		Str("filename", filename).
		Int64("size", entry.Size).
		Msg("catalog file uploaded")
	writeJSON(w, http.StatusCreated, entry)
}

// HandleDelete removes the file named by the JSON body {"filename": ...}.
// Deleting a map also forgets its stored grid.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.ensureDir(); err != nil {
		h.internalError(w, err, "failed to prepare catalog dir")
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Filename == nil {
		writeError(w, http.StatusBadRequest, "Missing `filename`")
		return
	}
	filename, ok := sanitize(*req.Filename)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing `filename`")
		return
	}

	if err := os.Remove(filepath.Join(h.catalog.Dir, filename)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s not found: %s", h.label(), filename))
			return
		}
		h.internalError(w, err, "failed to delete catalog file")
		return
	}

	if h.grids != nil {
		if err := h.grids.Remove(r.Context(), filename); err != nil {
			h.internalError(w, err, "failed to remove grid metadata")
			return
		}
	}

	log.Info().
		Str("catalog", h.catalog.Name).
		Str("filename", filename).
		Msg("catalog file deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleFile streams one file with a Content-Type derived from its extension
func (h *Handler) HandleFile(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("filename")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Filename is required")
		return
	}
	filename, ok := sanitize(raw)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	f, err := os.Open(filepath.Join(h.catalog.Dir, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		h.internalError(w, err, "failed to open catalog file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.internalError(w, err, "failed to stat catalog file")
		return
	}
	if !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "Not a file")
		return
	}

	w.Header().Set("Content-Type", ContentType(filename))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Warn().
			Err(err).
			Str("catalog", h.catalog.Name).
			Str("filename", filename).
			Msg("failed to stream catalog file")
	}
}

// ContentType maps an image extension to its MIME type
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// store writes r to the catalog via a temp file so a failed upload never
// replaces an existing file with a partial one
func (h *Handler) store(filename string, r io.Reader) (fs.FileInfo, error) {
	tmp, err := os.CreateTemp(h.catalog.Dir, "."+filename+".*.upload")
	if err != nil {
		return nil, fmt.Errorf("create temp upload: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close upload: %w", err)
	}

	target := filepath.Join(h.catalog.Dir, filename)
	if err := os.Rename(tmpName, target); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	return info, nil
}

func (h *Handler) ensureDir() error {
	if err := os.MkdirAll(h.catalog.Dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	return nil
}

func (h *Handler) isImage(filename string) bool {
	return slices.Contains(h.catalog.Extensions, strings.ToLower(filepath.Ext(filename)))
}

// label is the singular display name used in error bodies, "maps" -> "Map"
func (h *Handler) label() string {
	name := strings.TrimSuffix(h.catalog.Name, "s")
	if name == "" {
		return "File"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	log.Error().
		Err(err).
		Str("catalog", h.catalog.Name).
		Msg(msg)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func toEntry(filename string, info fs.FileInfo) Entry {
	return Entry{
		Filename:     filename,
		Name:         strings.TrimSuffix(filename, filepath.Ext(filename)),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
	}
}

// sanitize reduces a client-supplied name to its base name
func sanitize(name string) (string, bool) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", false
	}
	return base, true
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
