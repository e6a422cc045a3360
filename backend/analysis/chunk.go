package analysis

import (
	"fmt"
	"unicode"

	"github.com/AnTengye/contractplaybook/backend/config"
)

// truncationMarker is appended when a document exceeds the ceiling
const truncationMarker = "\n\n[... document truncated: %d characters omitted ...]"

// Plan is the result of splitting one document
type Plan struct {
	Chunks         []string
	Truncated      bool
	OriginalLength int // in characters, before truncation
}

// ChunkPlanner splits document text into bounded, contiguous chunks.
// All lengths are counted in characters (runes), not bytes.
type ChunkPlanner struct {
	threshold int
	chunkSize int
	ceiling   int
	snap      bool
}

// NewChunkPlanner requires 0 < chunk_size < single_shot_threshold <= max_document_chars
func NewChunkPlanner(cfg config.AnalysisConfig) (*ChunkPlanner, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.SingleShotThreshold <= cfg.ChunkSize {
		return nil, fmt.Errorf("single-shot threshold %d must exceed chunk size %d", cfg.SingleShotThreshold, cfg.ChunkSize)
	}
	if cfg.MaxDocumentChars < cfg.SingleShotThreshold {
		return nil, fmt.Errorf("document ceiling %d is below single-shot threshold %d", cfg.MaxDocumentChars, cfg.SingleShotThreshold)
	}
	return &ChunkPlanner{
		threshold: cfg.SingleShotThreshold,
		chunkSize: cfg.ChunkSize,
		ceiling:   cfg.MaxDocumentChars,
		snap:      cfg.SnapToWhitespace,
	}, nil
}

// Plan truncates text at the ceiling (with a visible marker) and partitions
// it. Concatenating the chunks always yields the possibly truncated text.
func (p *ChunkPlanner) Plan(text string) Plan {
	runes := []rune(text)
	plan := Plan{OriginalLength: len(runes)}

	if len(runes) > p.ceiling {
		omitted := len(runes) - p.ceiling
		runes = append(runes[:p.ceiling:p.ceiling], []rune(fmt.Sprintf(truncationMarker, omitted))...)
		plan.Truncated = true
	}

	if len(runes) < p.threshold {
		plan.Chunks = []string{string(runes)}
		return plan
	}

	for start := 0; start < len(runes); {
		end := p.boundary(runes, start)
		plan.Chunks = append(plan.Chunks, string(runes[start:end]))
		start = end
	}
	return plan
}

// boundary returns the exclusive end of the chunk starting at start
func (p *ChunkPlanner) boundary(runes []rune, start int) int {
	end := start + p.chunkSize
	if end >= len(runes) {
		return len(runes)
	}
	if !p.snap {
		return end
	}

	// Only look back over the last tenth of the chunk
	floor := end - p.chunkSize/10
	for i := end; i > floor && i > start+1; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
