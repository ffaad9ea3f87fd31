package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanSkipsHiddenSentAndTempFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "visible.bin"), "data")
	writeFile(t, filepath.Join(root, ".hidden"), "data")
	writeFile(t, filepath.Join(root, "sub", "nested.bin"), "data")
	writeFile(t, filepath.Join(root, SentDirName, "already_sent.bin"), "data")
	writeFile(t, filepath.Join(root, "Thumbs.db"), "data")
	writeFile(t, filepath.Join(root, "upload.tmp"), "data")
	writeFile(t, filepath.Join(root, "upload.filepart"), "data")

	candidates, err := Scan(root)
	require.NoError(t, err)

	var rels []string
	for _, c := range candidates {
		rels = append(rels, c.RelativePath)
	}
	sort.Strings(rels)
	require.Equal(t, []string{"sub/nested.bin", "visible.bin"}, rels)
}

func TestScanPopulatesSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), "12345")

	candidates, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, int64(5), candidates[0].SizeBytes)
}

func TestScanEmptyDirectory(t *testing.T) {
	root := t.TempDir()
	candidates, err := Scan(root)
	require.NoError(t, err)
	require.Empty(t, candidates)
}
