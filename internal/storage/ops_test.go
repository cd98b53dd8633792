package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal Name"},
		{"Slash/Name", "SlashName"},
		{"Colon:Name", "ColonName"},
		{"Trailing Dot.", "Trailing Dot"},
		{"AC/DC", "ACDC"},
		{"<Invalid>", "Invalid"},
		{"What's Going On?", "What's Going On"},
	}

	for _, tt := range tests {
		got := Sanitize(tt.input)
		if got != tt.expected {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "incoming.flac")
	dst := filepath.Join(dir, "library", "track.flac")

	if err := WriteFile(src, []byte("audio bytes")); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}

	if _, err := os.Stat(src); !IsNotExist(err) {
		t.Error("source file still exists after move")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read moved file: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("moved file content = %q", data)
	}
}

func TestHashAndVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	if err := WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	hash, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if hash != want {
		t.Errorf("HashFile() = %s, want %s", hash, want)
	}

	ok, err := VerifyFile(path, want)
	if err != nil || !ok {
		t.Errorf("VerifyFile() = %v, %v; want true, nil", ok, err)
	}

	ok, err = VerifyFile(path, "deadbeef")
	if err != nil || ok {
		t.Errorf("VerifyFile() with wrong hash = %v, %v; want false, nil", ok, err)
	}
}

func TestDeleteFolderIfEmpty(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty")
	if err := EnsureDir(empty); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := DeleteFolderIfEmpty(empty); err != nil {
		t.Fatalf("DeleteFolderIfEmpty() error = %v", err)
	}
	if _, err := os.Stat(empty); !IsNotExist(err) {
		t.Error("empty folder was not removed")
	}

	full := filepath.Join(dir, "full")
	if err := EnsureDir(full); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := WriteFile(filepath.Join(full, "keep.txt"), []byte("x")); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := DeleteFolderIfEmpty(full); err != nil {
		t.Fatalf("DeleteFolderIfEmpty() error = %v", err)
	}
	if _, err := os.Stat(full); err != nil {
		t.Error("non-empty folder should survive")
	}

	// Missing folders are fine.
	if err := DeleteFolderIfEmpty(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("DeleteFolderIfEmpty() on missing dir = %v", err)
	}
}
