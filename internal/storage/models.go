package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is the registry row written for every ingested file. Documents
// are immutable; re-ingesting the same path supersedes the prior row under
// the same ID rather than mutating it.
type Document struct {
	ID          string
	SourcePath  string
	Category    string
	SizeBytes   int64
	MimeType    string
	ChunkCount  int
	Truncated   bool
	ProcessedAt time.Time
}

// Turn is a single conversation message. Sender is "user" or "bot".
type Turn struct {
	Sender    string
	Text      string
	Timestamp time.Time
}

const (
	SenderUser = "user"
	SenderBot  = "bot"
)
