package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTemp_IsTransient(t *testing.T) {
	f, err := WriteTemp("test", []byte("abc"))
	if err != nil {
		t.Fatalf("WriteTemp failed: %v", err)
	}
	defer os.Remove(f.Path)

	if !f.Transient {
		t.Error("expected transient handle")
	}
	if !NonEmpty(f.Path) {
		t.Error("expected non-empty file")
	}
}

func TestDiscard_OnlyTransient(t *testing.T) {
	dir := t.TempDir()
	transientPath := filepath.Join(dir, "a.wav")
	persistentPath := filepath.Join(dir, "b.wav")
	for _, p := range []string{transientPath, persistentPath} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := Discard(Transient(transientPath)); err != nil {
		t.Fatalf("Discard transient: %v", err)
	}
	if err := Discard(Persistent(persistentPath)); err != nil {
		t.Fatalf("Discard persistent: %v", err)
	}

	if _, err := os.Stat(transientPath); !os.IsNotExist(err) {
		t.Error("transient file should be removed")
	}
	if _, err := os.Stat(persistentPath); err != nil {
		t.Error("persistent file should remain")
	}

	// 重复删除不应报错
	if err := Discard(Transient(transientPath)); err != nil {
		t.Errorf("second Discard: %v", err)
	}
}

func TestPersist_MovesFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tmp.wav")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	dstDir := filepath.Join(t.TempDir(), "rendered", "script")

	got, err := Persist(Transient(src), dstDir, "line-1.wav")
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if got.Transient {
		t.Error("expected persistent handle")
	}
	if got.Path != filepath.Join(dstDir, "line-1.wav") {
		t.Errorf("path = %s", got.Path)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after persist")
	}
	data, err := os.ReadFile(got.Path)
	if err != nil || string(data) != "data" {
		t.Errorf("unexpected content %q, err=%v", data, err)
	}
}

func TestNonEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.wav")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if NonEmpty(empty) {
		t.Error("zero-byte file should not count as non-empty")
	}
	if NonEmpty(filepath.Join(dir, "missing.wav")) {
		t.Error("missing file should not count as non-empty")
	}
	if NonEmpty(dir) {
		t.Error("directory should not count as non-empty")
	}
}
