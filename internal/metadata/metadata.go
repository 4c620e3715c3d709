// Package metadata handles EXIF inspection and best-effort tag copying
// between source and output images.
package metadata

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// HasEXIF reports whether the file carries decodable EXIF data. Only JPEG
// and TIFF-based containers are probed; everything else reports false.
func HasEXIF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, err = exif.Decode(f)
	return err == nil
}

// Copy transfers metadata tags from src into dst using the exiftool binary,
// the same way the output of a re-encode gets its EXIF back. The caller
// decides whether a failure matters; conversions to formats without a
// metadata container should not call Copy at all.
func Copy(src, dst string) error {
	cmd := exec.Command("exiftool", "-TagsFromFile", src, "-overwrite_original", dst)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exiftool copy failed: %w", err)
	}
	return nil
}

// Describe returns the metadata fields of a file as reported by exiftool.
func Describe(path string) (map[string]interface{}, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("initialize exiftool: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("no metadata extracted from %s", path)
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("extract metadata: %w", files[0].Err)
	}
	return files[0].Fields, nil
}

// FieldNames returns the sorted field names of a Describe result.
func FieldNames(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
