package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestNextListingSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	// first id "00000000" is taken, the second attempt yields "11111111"
	if err := os.WriteFile(filepath.Join(dir, "listing_00000000.txt"), nil, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	src := bytes.NewReader(append(bytes.Repeat([]byte{0}, 8), bytes.Repeat([]byte{1}, 8)...))
	id, path, err := NextListing(dir, 8, src)
	if err != nil {
		t.Fatalf("NextListing error: %v", err)
	}
	if id != "11111111" || filepath.Base(path) != "listing_11111111.txt" {
		t.Fatalf("unexpected id/path: %s %s", id, path)
	}
}

func TestNextListingDefaultsAndErrors(t *testing.T) {
	id, path, err := NextListing(t.TempDir(), 0, nil)
	if err != nil || len(id) != 8 || !strings.HasSuffix(path, ".txt") {
		t.Fatalf("unexpected: %q %q %v", id, path, err)
	}
	if _, _, err := NextListing(t.TempDir(), 4, errReader{}); err == nil {
		t.Fatalf("expected random error")
	}
	if err := EnsureDir(""); err == nil {
		t.Fatalf("expected empty dir error")
	}
}

func TestWriteListing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir error: %v", err)
	}
	p := filepath.Join(dir, "listing_x.txt")
	if err := WriteListing(p, "[Title]"); err != nil {
		t.Fatalf("WriteListing error: %v", err)
	}
	raw, _ := os.ReadFile(p)
	if string(raw) != "[Title]" {
		t.Fatalf("content mismatch: %q", raw)
	}
	if err := WriteListing(p, "again"); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
}
