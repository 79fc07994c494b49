package model

import "strconv"

// Chunk is one retrieval unit of a Document. IngestedAt is the
// unix-microsecond timestamp of the ingestion run that produced the chunk;
// together with Index it defines insertion order.
type Chunk struct {
	Document   string `json:"document"`
	Index      int    `json:"index"`
	StartIndex int    `json:"start_index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count,omitempty"`
	IngestedAt int64  `json:"-"`
}

// ID is the vector-store id of the chunk.
func (c Chunk) ID() string {
	return c.Document + "_" + strconv.Itoa(c.Index)
}

// RetrievedChunk is a chunk returned by similarity search.
type RetrievedChunk struct {
	Chunk
	Distance float64 `json:"distance"`
}
