// Package chunker splits document text into fixed-size, overlapping
// windows of Unicode code points.
//
// Windows start every size-overlap characters, so the last overlap
// characters of a chunk are exactly the first overlap characters of the
// next one. The final chunk always ends at the end of the text and may be
// shorter than size.
package chunker

import (
	"errors"
	"fmt"

	"docchat/internal/model"
)

var ErrInvalidConfig = errors.New("invalid chunking config")

// Tokenizer counts model tokens. It only annotates chunks; it never
// changes where a chunk starts or ends.
type Tokenizer interface {
	CountTokens(text string) int
}

// Segment is a window of the source text. Start is a rune offset.
type Segment struct {
	Start int
	Text  string
}

// Split cuts text into overlapping windows. Empty text yields no segments.
func Split(text string, size, overlap int) ([]Segment, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	stride := size - overlap
	segments := make([]Segment, 0, len(runes)/stride+1)
	for start := 0; ; start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, Segment{Start: start, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return segments, nil
}

// Splitter turns a document's text into model chunks.
type Splitter struct {
	size      int
	overlap   int
	tokenizer Tokenizer
}

// New validates the window settings. tokenizer may be nil.
func New(size, overlap int, tokenizer Tokenizer) (*Splitter, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Splitter{size: size, overlap: overlap, tokenizer: tokenizer}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Chunk splits text and stamps every chunk with the document name, its
// position and, when a tokenizer is configured, its token count.
func (s *Splitter) Chunk(document, text string) []model.Chunk {
	segments, _ := Split(text, s.size, s.overlap)
	chunks := make([]model.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = model.Chunk{
			Document:   document,
			Index:      i,
			StartIndex: seg.Start,
			Text:       seg.Text,
		}
		if s.tokenizer != nil {
			chunks[i].TokenCount = s.tokenizer.CountTokens(seg.Text)
		}
	}
	return chunks
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: overlap %d must be less than size %d", ErrInvalidConfig, overlap, size)
	}
	return nil
}
