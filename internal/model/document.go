package model

import "time"

const (
	SourceUpload    = "upload"
	SourceDirectory = "directory"
	SourceWatch     = "watch"
)

// Document is the ingestion metadata kept for one uploaded file. Name is
// the file's base name and identifies the document everywhere.
type Document struct {
	Name           string    `gorm:"primaryKey;size:255" json:"name"`
	Source         string    `gorm:"size:16;not null" json:"source"`
	SizeBytes      int64     `json:"size_bytes"`
	ChunkCount     int       `json:"chunk_count"`
	TokenCount     int       `json:"token_count"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	EmbeddingModel string    `gorm:"size:128" json:"embedding_model"`
	Checksum       string    `gorm:"size:64" json:"checksum"`
	IngestedAt     time.Time `json:"ingested_at"`
}
