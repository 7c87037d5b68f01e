// Package chunker splits raw document text into overlapping,
// sentence-aware segments sized for embedding.
package chunker

import "strings"

// DefaultChunkSize is the default chunk size in characters (~1000 tokens).
const DefaultChunkSize = 4000

// DefaultOverlap is the default overlap between consecutive chunks in
// characters (~100 tokens).
const DefaultOverlap = 400

// boundaryWindow bounds the backward search for a sentence terminator when
// a chunk boundary falls mid-text.
const boundaryWindow = 400

// Chunk is a bounded, possibly overlapping substring of a source document.
// Index is stable across re-chunking with identical parameters.
type Chunk struct {
	DocumentID  string
	Index       int
	TotalChunks int
	Text        string
	StartOffset int
	EndOffset   int
}

// Split walks text in a sliding window of maxChunkSize characters and cuts
// at the nearest sentence boundary inside the window, falling back to a raw
// character cut when none exists. Consecutive chunks overlap by at most
// overlap characters. Split is a pure function of its arguments: identical
// input yields identical chunk boundaries. Empty input yields nil.
func Split(text string, maxChunkSize, overlap int) []Chunk {
	if text == "" {
		return nil
	}
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= maxChunkSize {
		overlap = maxChunkSize / 10
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + maxChunkSize
		if end >= len(text) {
			end = len(text)
		} else if cut := sentenceCut(text, start, end); cut > start {
			end = cut
		}

		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        text[start:end],
			StartOffset: start,
			EndOffset:   end,
		})

		if end == len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			// Degenerate short remainder: advance past it to guarantee
			// termination.
			next = end
		}
		start = next
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// sentenceCut searches backward from end (within boundaryWindow characters,
// never before start) for sentence-terminating punctuation followed by
// whitespace, returning the offset just past the terminator. Returns start
// when no boundary is found, which callers treat as "no cut".
func sentenceCut(text string, start, end int) int {
	limit := end - boundaryWindow
	if limit < start {
		limit = start
	}
	for i := end - 1; i > limit; i-- {
		if !isSentenceEnd(text[i-1]) {
			continue
		}
		if i < len(text) && isSpace(text[i]) {
			return i
		}
	}
	return start
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// OverlapLen returns the number of characters shared by two adjacent
// chunks, used by callers that report chunking statistics.
func OverlapLen(a, b Chunk) int {
	if a.EndOffset <= b.StartOffset {
		return 0
	}
	return a.EndOffset - b.StartOffset
}

// JoinPreview returns the first n characters of a chunk's text with
// whitespace collapsed, for log lines and status output.
func JoinPreview(c Chunk, n int) string {
	s := strings.Join(strings.Fields(c.Text), " ")
	if len(s) > n {
		s = s[:n]
	}
	return s
}
