package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "savant-hue.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Complete() {
		t.Errorf("empty settings reported complete: %+v", s)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "savant-hue.json")
	want := Settings{Key: "abc123", InternalIPAddress: "192.168.1.20"}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"key":"abc123","internalipaddress":"192.168.1.20"}` {
		t.Errorf("file = %s", data)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want || !got.Complete() {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "savant-hue.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
