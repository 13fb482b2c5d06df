package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Persistence writes each collection of a MemStore to its own JSON file.
type Persistence struct {
	DataDir string
	log     *logrus.Logger

	mu    sync.Mutex
	saved map[string]uint64
}

// NewPersistence creates dir if needed and returns a handler rooted there.
func NewPersistence(dir string, log *logrus.Logger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create data dir: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Persistence{DataDir: dir, log: log, saved: make(map[string]uint64)}, nil
}

// SaveCollection atomically replaces the file for collection. Writes carrying
// a version older than the last one saved are dropped, so background saves
// that finish out of order never roll the file back.
func (p *Persistence) SaveCollection(collection string, version uint64, docs map[string]Fields) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if version <= p.saved[collection] {
		return nil
	}

	path := filepath.Join(p.DataDir, collection+".json")
	tmp := path + ".tmp"

	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", collection, err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("docstore: write %s: %w", collection, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("docstore: replace %s: %w", collection, err)
	}
	p.saved[collection] = version
	return nil
}

// LoadAll reads every collection file in the data directory. Unreadable files
// are logged and skipped.
func (p *Persistence) LoadAll() (map[string]map[string]Fields, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, fmt.Errorf("docstore: read data dir: %w", err)
	}

	all := make(map[string]map[string]Fields)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		collection := strings.TrimSuffix(name, ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			p.log.WithError(err).WithField("file", name).Warn("docstore: skipping unreadable collection file")
			continue
		}
		var docs map[string]Fields
		if err := json.Unmarshal(content, &docs); err != nil {
			p.log.WithError(err).WithField("file", name).Warn("docstore: skipping corrupt collection file")
			continue
		}
		all[collection] = docs
	}
	return all, nil
}
