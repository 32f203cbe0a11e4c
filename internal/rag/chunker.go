package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// Default chunking parameters, in characters (runes).
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits document text into fixed-size, overlapping character windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive sizes fall back to the defaults and an
// overlap that would stall the window is reduced to a quarter of the size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Size returns the maximum chunk length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts doc.Text into chunks. Window ends are pulled back to the last
// whitespace in the window's second half so words stay whole; every chunk is at
// most Size runes. Chunk IDs are derived from the document ID and position, so
// splitting the same document twice yields the same IDs.
func (c *Chunker) Split(doc RawDocument) []Chunk {
	text := []rune(strings.TrimSpace(doc.Text))
	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else if cut := lastSpace(text, start+c.size/2, end); cut > start {
			end = cut
		}

		if piece := strings.TrimSpace(string(text[start:end])); piece != "" {
			chunks = append(chunks, Chunk{
				ID:         ChunkID(doc.ID, len(chunks)),
				DocumentID: doc.ID,
				Text:       piece,
				Position:   len(chunks),
			})
		}
		if end == len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		// Do not start a window in the middle of a word.
		for next < end && next > start && !unicode.IsSpace(text[next-1]) {
			next++
		}
		start = next
	}
	return chunks
}

// ChunkID returns the deterministic ID of the chunk at position in documentID.
func ChunkID(documentID string, position int) string {
	sum := sha256.Sum256([]byte(documentID + "#" + strconv.Itoa(position)))
	return hex.EncodeToString(sum[:16])
}

// lastSpace returns the index just after the last whitespace rune in text[from:to],
// or -1 when there is none.
func lastSpace(text []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if unicode.IsSpace(text[i]) {
			return i + 1
		}
	}
	return -1
}
