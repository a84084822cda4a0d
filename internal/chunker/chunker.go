// Package chunker splits the combined document text into overlapping retrieval units.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"

	"docqa/internal/config"
	"docqa/internal/models"
)

type Chunker interface {
	CreateChunks(text string) ([]string, error)
}

// separator groups in order of preference, the last resort is a raw cut
var boundaries = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{", "},
	{" "},
}

// recursiveSeparators mirror the separator list used by the recursive strategy
var recursiveSeparators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}

// New returns the chunker selected by cfg.ChunkStrategy
func New(cfg config.ProcessingConfig) (Chunker, error) {
	switch cfg.ChunkStrategy {
	case config.StrategyRecursive:
		return NewRecursive(cfg.ChunkSize, cfg.ChunkOverlap)
	case config.StrategyWindow, "":
		return NewWindow(cfg.ChunkSize, cfg.ChunkOverlap)
	default:
		return nil, fmt.Errorf("%w: unknown chunk strategy %q", models.ErrDocumentProcessing, cfg.ChunkStrategy)
	}
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %d", models.ErrDocumentProcessing, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: chunk overlap must be within [0, %d), got %d", models.ErrDocumentProcessing, size, overlap)
	}
	return nil
}

// Window is a sliding window over runes. Each window ends at the best boundary found in
// its second half and the next window starts at least overlap runes before that end.
type Window struct {
	size     int
	overlap  int
	lookBack int
}

func NewWindow(size, overlap int) (*Window, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	// the carried overlap never exceeds overlap+lookBack, which must stay below size
	lookBack := min(size/10, size-overlap-1)
	return &Window{size: size, overlap: overlap, lookBack: lookBack}, nil
}

func (w *Window) CreateChunks(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= w.size {
		return []string{text}, nil
	}

	var chunks []string
	start, prevCut := 0, 0
	for {
		end := start + w.size
		if end >= n {
			chunks = appendChunk(chunks, runes[start:])
			break
		}

		cut := w.breakPoint(runes, start, end, prevCut)
		chunks = appendChunk(chunks, runes[start:cut])

		next := w.nextStart(runes, start, cut)
		if next <= start {
			return nil, fmt.Errorf("%w: splitter made no progress at rune %d", models.ErrDocumentProcessing, start)
		}
		start, prevCut = next, cut
	}
	return chunks, nil
}

// appendChunk keeps every window, whitespace-only ones included
func appendChunk(chunks []string, r []rune) []string {
	return append(chunks, string(r))
}

// breakPoint returns the end of the window [start, end): the position right after the
// last occurrence of the most preferred separator inside the allowed range, or end.
func (w *Window) breakPoint(runes []rune, start, end, prevCut int) int {
	lo := max(start+w.overlap+1, start+w.size/2, prevCut+1)
	if lo > end {
		return end
	}

	for _, group := range boundaries {
		best := -1
		for _, sep := range group {
			if i := lastBoundary(runes, sep, lo, end); i > best {
				best = i
			}
		}
		if best > 0 {
			return best
		}
	}
	return end
}

// lastBoundary finds the largest i in [lo, hi] such that runes[i-len(sep):i] == sep
func lastBoundary(runes []rune, sep string, lo, hi int) int {
	s := []rune(sep)
	for i := hi; i >= lo; i-- {
		if i-len(s) < 0 {
			break
		}
		if string(runes[i-len(s):i]) == sep {
			return i
		}
	}
	return -1
}

// nextStart picks where the following window begins, preferring the start of a word
func (w *Window) nextStart(runes []rune, start, cut int) int {
	if w.overlap == 0 {
		return cut
	}
	target := cut - w.overlap
	floor := max(start+1, target-w.lookBack)
	for i := target; i >= floor; i-- {
		if unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return target
}

// Recursive delegates to the langchaingo recursive character splitter
type Recursive struct {
	splitter textsplitter.RecursiveCharacter
}

func NewRecursive(size, overlap int) (*Recursive, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Recursive{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(recursiveSeparators),
			textsplitter.WithKeepSeparator(true),
		),
	}, nil
}

func (r *Recursive) CreateChunks(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	chunks, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating text chunks: %w", models.ErrDocumentProcessing, err)
	}
	return chunks, nil
}
