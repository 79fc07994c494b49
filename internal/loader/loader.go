// Package loader turns files and uploaded bytes into plain document text.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"docchat/internal/pkg/pdfextract"
)

var (
	ErrEmpty       = errors.New("document is empty")
	ErrUnreadable  = errors.New("document is unreadable")
	ErrUnsupported = errors.New("unsupported document type")
)

const (
	ExtText = ".txt"
	ExtPDF  = ".pdf"
)

// Supported reports whether name has an extension the loader can read.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtText, ExtPDF:
		return true
	}
	return false
}

// DocumentName strips path elements so that a document is always
// identified by its base name.
func DocumentName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return ""
	}
	return base
}

func LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return LoadBytes(filepath.Base(path), data)
}

// LoadBytes decodes data according to the extension of name. Text must be
// valid UTF-8 (a leading BOM is dropped). Whitespace-only content is
// ErrEmpty.
func LoadBytes(name string, data []byte) (string, error) {
	var text string
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtText:
		data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid utf-8", ErrUnreadable, name)
		}
		text = string(data)
	case ExtPDF:
		extracted, err := pdfextract.ExtractText(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
		}
		text = extracted
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	return text, nil
}

// ScanDir returns the paths of the .txt files directly inside dir, sorted
// by name. A missing directory yields no paths.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s failed: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ExtText {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
