package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// EnsureDir expands path and creates it (and its parents) if missing. It
// returns the expanded path and fails when path exists but is not a
// directory.
func EnsureDir(path string) (string, error) {
	p, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", fmt.Errorf("empty directory path")
	}
	if fi, err := os.Stat(p); err == nil {
		if !fi.IsDir() {
			return "", fmt.Errorf("%s is not a directory", p)
		}
		return p, nil
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	return p, nil
}

// EnsureParent creates the directory that will hold file. In-memory SQLite
// names (":memory:") are left alone.
func EnsureParent(file string) (string, error) {
	if file == "" || file == ":memory:" {
		return file, nil
	}
	p, err := ExpandHome(file)
	if err != nil {
		return "", err
	}
	if _, err := EnsureDir(filepath.Dir(p)); err != nil {
		return "", err
	}
	return p, nil
}
