package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"No tilde", "/var/lib/rager", "/var/lib/rager"},
		{"Tilde only", "~", home},
		{"Tilde prefix", "~/rageshake", filepath.Join(home, "rageshake")},
		{"Relative", "rageshake", "rageshake"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandPath(tc.input)
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if got != tc.expected {
				t.Errorf("expected %q, but got %q", tc.expected, got)
			}
		})
	}
}

func TestUserDataDir(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_DATA_HOME is only honoured on unix")
	}

	t.Run("Uses XDG_DATA_HOME", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_DATA_HOME", dir)
		got, err := UserDataDir()
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if got != dir {
			t.Errorf("expected %q, but got %q", dir, got)
		}
	})

	t.Run("Rejects relative XDG_DATA_HOME", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "relative/dir")
		if _, err := UserDataDir(); err == nil {
			t.Error("expected an error for a relative path, but got nil")
		}
	})
}

func TestInvertMap(t *testing.T) {
	m := map[int]string{1: "sync", 2: "search"}
	inv := InvertMap(m)
	if len(inv) != 2 || inv["sync"] != 1 || inv["search"] != 2 {
		t.Errorf("expected inverted map, but got %v", inv)
	}
}

func TestDeduplicate(t *testing.T) {
	got := Deduplicate([]string{"b", "a", "b", "c", "a"})
	expected := []string{"b", "a", "c"}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, but got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("expected %v, but got %v", expected, got)
		}
	}
}

func TestByteCountIEC(t *testing.T) {
	testCases := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tc := range testCases {
		if got := ByteCountIEC(tc.input); got != tc.expected {
			t.Errorf("expected %q for %d, but got %q", tc.expected, tc.input, got)
		}
	}
}
