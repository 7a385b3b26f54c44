// Package fileutil holds small helpers for inspecting the local filesystem.
package fileutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileExists returns true if the given path exists, whether file or directory.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir returns true if the given path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// ListFilesRecursive returns the regular files beneath dir as paths relative
// to dir, sorted.
func ListFilesRecursive(dir string) ([]string, error) {
	var rv []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rv = append(rv, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rv)
	return rv, nil
}
