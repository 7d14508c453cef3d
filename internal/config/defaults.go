// Package config provides service configuration for configd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/agathahq/configd/pkg/models"
)

// Defaults holds fallback configuration documents loaded from a YAML
// directory, one file per config key (the file stem). The resolver consults
// these when the store has no active version for a key, and the coordinator
// uses them as the system-wide level of its parameter chain.
type Defaults struct {
	dir  string
	mu   sync.RWMutex
	docs map[string]models.Document
}

// LoadDefaults reads all *.yml / *.yaml files from dir. A missing directory
// yields an empty set, not an error; a file that fails to parse is logged
// and skipped so one bad file cannot take down the fallback layer.
func LoadDefaults(dir string) (*Defaults, error) {
	d := &Defaults{dir: dir, docs: map[string]models.Document{}}
	if dir == "" {
		return d, nil
	}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory and atomically swaps the document set.
func (d *Defaults) Reload() error {
	if d.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", d.dir).Msg("Defaults directory not found")
			return nil
		}
		return fmt.Errorf("read defaults dir: %w", err)
	}

	docs := map[string]models.Document{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(d.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read defaults file")
			continue
		}

		var doc models.Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to parse defaults file")
			continue
		}

		key := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		docs[key] = doc
	}

	d.mu.Lock()
	d.docs = docs
	d.mu.Unlock()

	log.Debug().Int("documents", len(docs)).Str("dir", d.dir).Msg("Defaults loaded")
	return nil
}

// Get returns the fallback document for a key, or nil when none exists.
// Callers must treat the returned document as read-only.
func (d *Defaults) Get(key string) models.Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.docs[key]
}

// Keys returns the config keys that have fallback documents.
func (d *Defaults) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.docs))
	for k := range d.docs {
		keys = append(keys, k)
	}
	return keys
}
