package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesText(t *testing.T) {
	text, err := LoadBytes("notes.TXT", []byte("\xef\xbb\xbfhello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestLoadBytesErrors(t *testing.T) {
	_, err := LoadBytes("empty.txt", []byte(" \n\t "))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = LoadBytes("bad.txt", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = LoadBytes("broken.pdf", []byte("not a pdf"))
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = LoadBytes("image.png", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	text, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", text)

	_, err = LoadFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.pdf", "d.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	paths, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")}, paths)

	paths, err = ScanDir(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDocumentNameAndSupported(t *testing.T) {
	assert.Equal(t, "report.txt", DocumentName("../../etc/report.txt"))
	assert.Equal(t, "report.txt", DocumentName(`C:\Users\me\report.txt`))
	assert.Equal(t, "", DocumentName(""))
	assert.Equal(t, "", DocumentName("/"))

	assert.True(t, Supported("a.PDF"))
	assert.True(t, Supported("a.txt"))
	assert.False(t, Supported("a.docx"))
}
