package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUpdateAndGet(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, ok := m.Get("/var/log/tf.log"); ok {
		t.Fatal("Expected no position before Update")
	}

	m.Update("/var/log/tf.log", 42, 7)
	pos, ok := m.Get("/var/log/tf.log")
	if !ok {
		t.Fatal("Position not found")
	}
	if pos.Line != 42 || pos.Inode != 7 {
		t.Errorf("Position mismatch: line=%d inode=%d", pos.Line, pos.Inode)
	}
}

func TestResumeLine(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.Update("tf.log", 10, 99)

	if got := m.ResumeLine("tf.log", 99); got != 10 {
		t.Errorf("ResumeLine() = %d, want 10", got)
	}
	if got := m.ResumeLine("tf.log", 100); got != 0 {
		t.Errorf("ResumeLine() for a rotated file = %d, want 0", got)
	}
	if got := m.ResumeLine("other.log", 99); got != 0 {
		t.Errorf("ResumeLine() for an unknown file = %d, want 0", got)
	}
}

func TestPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")

	m1, err := NewManager(dir, time.Second, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m1.Update("a.log", 100, 1)
	m1.Update("b.log", 200, 2)
	if err := m1.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	m2, err := NewManager(dir, time.Second, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if got := m2.ResumeLine("a.log", 1); got != 100 {
		t.Errorf("Expected line 100 after reload, got %d", got)
	}
	if got := m2.ResumeLine("b.log", 2); got != 200 {
		t.Errorf("Expected line 200 after reload, got %d", got)
	}
}

func TestPeriodicSave(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.Start()
	m.Update("tf.log", 5, 3)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, fileName)); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("checkpoint file was not written periodically")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(dir, time.Second, nil); err == nil {
		t.Error("Expected error for a corrupt checkpoint file")
	}
}

func TestFileID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tf.log")
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if FileID(fi) == 0 {
		t.Error("Expected a non-zero inode on this platform")
	}
}
