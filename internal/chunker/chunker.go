// Package chunker splits page text into overlapping chunks for embedding.
//
// Text is first cut recursively on an ordered list of separators, coarsest
// first, until every piece fits the size budget. Adjacent pieces are then
// merged greedily into non-overlapping bodies that tile the page, and each
// chunk after the first is prefixed with up to Overlap runes of the text
// before it, never growing past the chunk size. Sizes are counted in runes.
package chunker

import (
	"fmt"
	"strings"

	"rag-assistant/internal/models"
)

// Splitter holds the chunking parameters. It is safe for concurrent use.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators [][]rune
}

// Piece is one chunk of a single text.
type Piece struct {
	// Offset is the rune offset of Content within the source text.
	Offset int
	// Overlap is the number of leading runes shared with the previous piece.
	Overlap int
	Content string
}

type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// New validates the parameters and returns a Splitter.
func New(chunkSize, overlap int, separators []string) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if len(separators) == 0 {
		separators = models.DefaultSeparators
	}
	seps := make([][]rune, len(separators))
	for i, sep := range separators {
		seps[i] = []rune(sep)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, separators: seps}, nil
}

// SplitText chunks a single text. Whitespace-only input yields no pieces.
func (s *Splitter) SplitText(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	budget := s.chunkSize - s.overlap

	pieces := s.split(runes, span{0, len(runes)}, s.separators, budget)
	bodies := merge(pieces, s.chunkSize, budget)

	out := make([]Piece, 0, len(bodies))
	for i, body := range bodies {
		start, shared := body.start, 0
		if i > 0 {
			// an unsplittable body longer than the budget gets a shorter prefix
			shared = max(0, min(s.overlap, body.start, s.chunkSize-body.len()))
			start -= shared
		}
		out = append(out, Piece{
			Offset:  start,
			Overlap: shared,
			Content: string(runes[start:body.end]),
		})
	}
	return out
}

// SplitDocument chunks every page of doc. Chunks never cross page boundaries.
func (s *Splitter) SplitDocument(doc models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range doc.Pages {
		for _, piece := range s.SplitText(page.Text) {
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s-p%d-c%d", doc.ID, page.Index, len(chunks)),
				DocumentID: doc.ID,
				PageIndex:  page.Index,
				Offset:     piece.Offset,
				Index:      len(chunks),
				Overlap:    piece.Overlap,
				Content:    piece.Content,
			})
		}
	}
	return chunks
}

// split cuts sp into pieces no longer than budget, trying separators in order.
// A piece that no remaining separator can cut is returned as is, even when oversized.
func (s *Splitter) split(runes []rune, sp span, seps [][]rune, budget int) []span {
	if sp.len() <= budget {
		return []span{sp}
	}
	for i, sep := range seps {
		parts := splitOn(runes, sp, sep)
		if parts == nil {
			continue
		}
		out := make([]span, 0, len(parts))
		for _, p := range parts {
			if p.len() <= budget {
				out = append(out, p)
				continue
			}
			out = append(out, s.split(runes, p, seps[i+1:], budget)...)
		}
		return out
	}
	return []span{sp}
}

// splitOn cuts sp after every occurrence of sep, keeping the separator at the
// end of the preceding part so that parts tile sp exactly. An empty separator
// cuts between runes. It returns nil when sep does not occur in sp.
func splitOn(runes []rune, sp span, sep []rune) []span {
	if len(sep) == 0 {
		parts := make([]span, 0, sp.len())
		for i := sp.start; i < sp.end; i++ {
			parts = append(parts, span{i, i + 1})
		}
		return parts
	}

	var parts []span
	start := sp.start
	for i := sp.start; i+len(sep) <= sp.end; {
		if !hasPrefix(runes[i:sp.end], sep) {
			i++
			continue
		}
		i += len(sep)
		parts = append(parts, span{start, i})
		start = i
	}
	if parts == nil {
		return nil
	}
	if start < sp.end {
		parts = append(parts, span{start, sp.end})
	}
	return parts
}

func hasPrefix(runes, prefix []rune) bool {
	if len(runes) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if runes[i] != r {
			return false
		}
	}
	return true
}

// merge joins adjacent pieces into bodies. The first body may use the whole
// chunk size; later bodies leave room for the overlap prefix.
func merge(pieces []span, first, rest int) []span {
	var bodies []span
	budget := first
	cur := span{-1, -1}
	for _, p := range pieces {
		if cur.start < 0 {
			cur = p
			continue
		}
		if cur.len()+p.len() <= budget {
			cur.end = p.end
			continue
		}
		bodies = append(bodies, cur)
		budget = rest
		cur = p
	}
	if cur.start >= 0 {
		bodies = append(bodies, cur)
	}
	return bodies
}
