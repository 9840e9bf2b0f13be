package errordump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDumpWritesRecord(t *testing.T) {
	dir := t.TempDir()
	ring, err := NewRing(dir)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	ring.Dump(&Record{Provider: "antigravity", StatusCode: 429, Body: `{"error":"quota"}`})

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dump count = %d", len(entries))
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("parse dump: %v", err)
	}
	if rec.Provider != "antigravity" || rec.StatusCode != 429 || rec.Body == "" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestRingStaysBounded(t *testing.T) {
	dir := t.TempDir()
	ring, err := NewRing(dir)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < maxDumps+7; i++ {
		ring.Dump(&Record{
			Time:       base.Add(time.Duration(i) * time.Second),
			Provider:   "qwen",
			StatusCode: 500,
			Body:       fmt.Sprintf("dump %d", i),
		})
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != maxDumps {
		t.Errorf("dump count = %d, want %d", len(entries), maxDumps)
	}
}
