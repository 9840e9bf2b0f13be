// Package errordump captures raw upstream error payloads on disk for
// diagnosis. The directory is a bounded ring: oldest dumps are removed
// once the cap is exceeded. Dump failures are logged and swallowed so
// they never delay a response.
package errordump

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const maxDumps = 50

// Ring writes bounded error dumps under one directory.
type Ring struct {
	dir string
	mu  sync.Mutex
}

// NewRing prepares the dump directory.
func NewRing(dir string) (*Ring, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	return &Ring{dir: dir}, nil
}

// Record is one captured upstream failure. The upstream body is kept
// verbatim; request bodies are not captured since they may embed caller
// content.
type Record struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	StatusCode int       `json:"status_code"`
	Body       string    `json:"body"`
}

// Dump writes a record and prunes the ring.
func (r *Ring) Dump(rec *Record) {
	if r == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		log.Printf("⚠️ error dump marshal failed: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := fmt.Sprintf("%s_%s_%d.json", rec.Time.Format("20060102T150405.000"), rec.Provider, rec.StatusCode)
	if err := os.WriteFile(filepath.Join(r.dir, name), raw, 0o644); err != nil {
		log.Printf("⚠️ error dump write failed: %v", err)
		return
	}
	r.prune()
}

func (r *Ring) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= maxDumps {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-maxDumps] {
		os.Remove(filepath.Join(r.dir, name))
	}
}
