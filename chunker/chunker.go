package chunker

import (
	"fmt"
	"unicode"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// Piece is one chunk of a document's text. Offsets are byte indexes into the
// original text so callers can cite the exact source span.
type Piece struct {
	Ordinal     int
	Text        string
	StartOffset int
	EndOffset   int
}

// Chunker splits text into overlapping windows of whitespace-delimited
// tokens. Chunking is a pure function of the text and the configuration:
// re-running on unchanged text reproduces byte-identical boundaries, which
// re-indexing relies on.
type Chunker struct {
	chunkSize int
	overlap   int
}

func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

type tokenSpan struct {
	start int
	end   int
}

// Chunk segments text into ordered pieces. Text shorter than the chunk size
// yields exactly one piece; whitespace-only text yields none. A trailing
// remainder shorter than the overlap is merged into the previous piece
// instead of being emitted as a near-empty chunk.
func (c *Chunker) Chunk(text string) []Piece {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := c.chunkSize - c.overlap
	var pieces []Piece
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if remainder := len(tokens) - end; remainder > 0 && remainder < c.overlap {
			end = len(tokens)
		}

		startByte := tokens[start].start
		endByte := tokens[end-1].end
		pieces = append(pieces, Piece{
			Ordinal:     len(pieces),
			Text:        text[startByte:endByte],
			StartOffset: startByte,
			EndOffset:   endByte,
		})

		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// CountTokens returns the token count used for window sizing. The same
// approximation is shared with the retriever's context budget.
func CountTokens(text string) int {
	return len(tokenize(text))
}

func tokenize(text string) []tokenSpan {
	var spans []tokenSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, tokenSpan{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, tokenSpan{start: start, end: len(text)})
	}
	return spans
}
