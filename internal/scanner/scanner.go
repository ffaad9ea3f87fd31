// Package scanner walks the local source tree and produces upload
// candidates, per spec.md §4.E.
package scanner

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Candidate is a local file eligible for stabilization and upload.
type Candidate struct {
	RelativePath string
	AbsolutePath string
	SizeBytes    int64
}

// SentDirName is the subdirectory (at any depth) that is always skipped
// during scanning and that successfully uploaded files are moved into.
const SentDirName = "FTPU-Sent"

// tempSystemPatterns are glob patterns (matched against the base name)
// for files the scanner always skips, per spec.md §4.E.
var tempSystemPatterns = []string{
	"*.filepart",
	"._*",
	"Thumbs.db",
	".DS_Store",
	".Trash*",
	"desktop.ini",
	"~$*",
	"*.tmp",
	"*.temp",
}

// Scan recursively walks root and returns every eligible file as a
// Candidate, with RelativePath preserved relative to root.
func Scan(root string) ([]Candidate, error) {
	var out []Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip entries we can't stat rather than aborting the whole scan.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}

		base := d.Name()
		if d.IsDir() {
			if base == SentDirName || isHidden(base) {
				return filepath.SkipDir
			}
			return nil
		}

		if isHidden(base) || isTempSystemFile(base) || underSentDir(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		out = append(out, Candidate{
			RelativePath: filepath.ToSlash(rel),
			AbsolutePath: path,
			SizeBytes:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isHidden(base string) bool {
	return strings.HasPrefix(base, ".")
}

func underSentDir(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts {
		if p == SentDirName {
			return true
		}
	}
	return false
}

func isTempSystemFile(base string) bool {
	for _, pat := range tempSystemPatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}
