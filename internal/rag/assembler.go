package rag

import (
	"sort"
	"strings"
	"unicode/utf8"

	"vozlab.mx/conversa/internal/model"
)

// Delimiter separates chunks inside the assembled context block.
const Delimiter = "\n\n---\n\n"

// AssemblerConfig bounds the assembled context.
type AssemblerConfig struct {
	MinScore  float64 // chunks scoring below this never reach the context
	MaxChunks int     // at most this many chunks survive selection
	MaxChars  int     // context block budget, counted in runes
}

// Assembler builds the bounded context block fed to the LLM. Same chunks in,
// same context out: selection, ordering, and truncation are deterministic.
type Assembler struct {
	cfg AssemblerConfig
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

// Context is an assembled context block plus the IDs of the documents
// that made it in.
type Context struct {
	Text   string
	DocIDs []string
}

// Empty reports whether no chunk survived assembly.
func (c Context) Empty() bool {
	return c.Text == ""
}

// Len returns the context length in runes.
func (c Context) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Assemble selects and joins chunks into a bounded context block.
// Input order does not matter. The algorithm:
//
//  1. drop chunks scoring below MinScore or with empty text
//  2. dedupe by document ID, keeping the highest-scoring occurrence
//  3. order by score descending, document ID ascending on ties
//  4. keep at most MaxChunks
//  5. accumulate whole chunks while the joined block fits MaxChars;
//     a chunk that does not fit whole is skipped, never split
func (a *Assembler) Assemble(chunks []model.RetrievedChunk) Context {
	best := make(map[string]model.RetrievedChunk, len(chunks))
	for _, c := range chunks {
		if c.Score < a.cfg.MinScore {
			continue
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		c.Text = text
		if prev, ok := best[c.DocID]; !ok || c.Score > prev.Score {
			best[c.DocID] = c
		}
	}

	selected := make([]model.RetrievedChunk, 0, len(best))
	for _, c := range best {
		selected = append(selected, c)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Score != selected[j].Score {
			return selected[i].Score > selected[j].Score
		}
		return selected[i].DocID < selected[j].DocID
	})

	if a.cfg.MaxChunks > 0 && len(selected) > a.cfg.MaxChunks {
		selected = selected[:a.cfg.MaxChunks]
	}

	delimLen := utf8.RuneCountInString(Delimiter)
	var (
		parts  []string
		docIDs []string
		total  int
	)
	for _, c := range selected {
		chunkLen := utf8.RuneCountInString(c.Text)
		cost := chunkLen
		if len(parts) > 0 {
			cost += delimLen
		}
		if a.cfg.MaxChars > 0 && total+cost > a.cfg.MaxChars {
			continue
		}
		parts = append(parts, c.Text)
		docIDs = append(docIDs, c.DocID)
		total += cost
	}

	return Context{
		Text:   strings.Join(parts, Delimiter),
		DocIDs: docIDs,
	}
}
