package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsOrderedGooseFiles(t *testing.T) {
	entries, err := fs.ReadDir(FS(), ".")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("migrations=%d, want 2", len(entries))
	}
	want := []string{"00001_scraped_content.sql", "00002_media.sql"}
	for i, e := range entries {
		if e.Name() != want[i] {
			t.Fatalf("entry %d=%q, want %q", i, e.Name(), want[i])
		}
		data, err := fs.ReadFile(FS(), e.Name())
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", e.Name(), err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", e.Name())
		}
	}
}
