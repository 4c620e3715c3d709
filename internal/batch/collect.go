package batch

import (
	"os"
	"path/filepath"
	"strings"

	"image-compressor-go/internal/config"
)

// Collect expands a mix of file and directory paths into the list of
// supported image files. Directories are walked recursively; unreadable
// entries are skipped rather than failing the whole batch.
func Collect(inputPaths []string) []string {
	var files []string

	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if config.IsSupportedExtension(filepath.Ext(d.Name())) {
			files = append(files, path)
		}
		return nil
	}

	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			continue
		}
		if info.IsDir() {
			_ = filepath.WalkDir(in, visit)
			continue
		}
		if config.IsSupportedExtension(strings.ToLower(filepath.Ext(in))) {
			files = append(files, in)
		}
	}
	return files
}
