// internal/storage/file_storage_test.go
package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return fs
}

func TestSaveLoadJSON(t *testing.T) {
	fs := newTestStorage(t)

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := fs.SaveJSONFile("projects/p1", "project.json", doc{Name: "Epic", Count: 3}); err != nil {
		t.Fatalf("SaveJSONFile: %v", err)
	}

	var got doc
	if err := fs.LoadJSONFile("projects/p1", "project.json", &got); err != nil {
		t.Fatalf("LoadJSONFile: %v", err)
	}
	if got.Name != "Epic" || got.Count != 3 {
		t.Errorf("loaded %+v", got)
	}
}

func TestSaveInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("d", "f.txt", []byte("one")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if data, err := fs.LoadTextFile("d", "f.txt"); err != nil || string(data) != "one" {
		t.Fatalf("first load = %q, %v", data, err)
	}
	if err := fs.SaveTextFile("d", "f.txt", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if data, _ := fs.LoadTextFile("d", "f.txt"); string(data) != "two" {
		t.Errorf("stale read after overwrite: %q", data)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("d", "f.txt", []byte("body")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.BaseDir, "d", "f.txt.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestFileAndDirExists(t *testing.T) {
	fs := newTestStorage(t)

	if fs.FileExists("d", "f.txt") || fs.DirExists("d") {
		t.Fatal("exists before creation")
	}
	if err := fs.SaveTextFile("d", "f.txt", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !fs.FileExists("d", "f.txt") || !fs.DirExists("d") {
		t.Error("missing after creation")
	}
}

func TestDeleteFile(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.DeleteFile("d", "absent.txt"); err == nil {
		t.Error("deleting missing file succeeded")
	}

	if err := fs.SaveTextFile("d", "f.txt", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := fs.DeleteFile("d", "f.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fs.FileExists("d", "f.txt") {
		t.Error("file still exists after delete")
	}
	if _, err := fs.LoadTextFile("d", "f.txt"); err == nil {
		t.Error("load after delete served stale cache")
	}
}

func TestDeleteDirAndListDirs(t *testing.T) {
	fs := newTestStorage(t)

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := fs.SaveTextFile(filepath.Join("projects", id), "project.json", []byte("{}")); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	dirs, err := fs.ListDirs("projects")
	if err != nil || len(dirs) != 3 {
		t.Fatalf("ListDirs = %v, %v", dirs, err)
	}

	// Warm the cache so the delete has entries to drop.
	if _, err := fs.LoadTextFile("projects/p2", "project.json"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := fs.DeleteDir("projects/p2"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	dirs, _ = fs.ListDirs("projects")
	if len(dirs) != 2 {
		t.Errorf("dirs after delete = %v", dirs)
	}
	if _, err := fs.LoadTextFile("projects/p2", "project.json"); err == nil {
		t.Error("load from deleted dir served stale cache")
	}
}
