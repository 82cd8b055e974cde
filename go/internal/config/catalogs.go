package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes caps a single catalog upload
const DefaultMaxUploadBytes int64 = 50 << 20

// DefaultExtensions are the image types a catalog lists
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Catalog describes one asset directory served under /api/<name>
type Catalog struct {
	Name           string   `yaml:"name"`
	Dir            string   `yaml:"dir"`
	GridMetadata   bool     `yaml:"grid_metadata"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	Extensions     []string `yaml:"extensions"`
}

type catalogFile struct {
	Catalogs []Catalog `yaml:"catalogs"`
}

// DefaultCatalogs returns the maps catalog, which carries grid metadata, and
// the artwork catalog
func DefaultCatalogs(mapsDir, artworkDir string) []Catalog {
	return withDefaults([]Catalog{
		{Name: "maps", Dir: mapsDir, GridMetadata: true},
		{Name: "artwork", Dir: artworkDir},
	})
}

// LoadCatalogs reads a catalog YAML file. An empty path yields the defaults.
func LoadCatalogs(path, mapsDir, artworkDir string) ([]Catalog, error) {
	if path == "" {
		return DefaultCatalogs(mapsDir, artworkDir), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog config: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog config: %w", err)
	}
	if len(file.Catalogs) == 0 {
		return nil, fmt.Errorf("catalog config %s lists no catalogs", path)
	}

	seen := make(map[string]bool, len(file.Catalogs))
	grids := 0
	for _, c := range file.Catalogs {
		switch {
		case c.Name == "" || strings.ContainsAny(c.Name, "/ "):
			return nil, fmt.Errorf("invalid catalog name %q", c.Name)
		case c.Dir == "":
			return nil, fmt.Errorf("catalog %s has no dir", c.Name)
		case seen[c.Name]:
			return nil, fmt.Errorf("duplicate catalog %s", c.Name)
		}
		seen[c.Name] = true
		if c.GridMetadata {
			grids++
		}
	}
	if grids > 1 {
		return nil, fmt.Errorf("only one catalog may carry grid metadata, got %d", grids)
	}

	return withDefaults(file.Catalogs), nil
}

func withDefaults(catalogs []Catalog) []Catalog {
	out := make([]Catalog, len(catalogs))
	for i, c := range catalogs {
		if c.MaxUploadBytes <= 0 {
			c.MaxUploadBytes = DefaultMaxUploadBytes
		}
		if len(c.Extensions) == 0 {
			c.Extensions = append([]string(nil), DefaultExtensions...)
		}
		for j, ext := range c.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			c.Extensions[j] = ext
		}
		out[i] = c
	}
	return out
}
