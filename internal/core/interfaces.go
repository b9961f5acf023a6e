// Package core defines the shared types and collaborator interfaces for the
// pdf-to-podcast pipeline.
package core

import "context"

// WorkItem identifies one unit of narration work, usually a chapter of the
// source document. Items are produced once by structure detection and are
// read-only input to every later stage.
type WorkItem struct {
	// ID is the stable key for the item, derived from the chapter title.
	ID string
	// Ordinal is the 1-based position of the item within the document.
	Ordinal int
	// StartPage and EndPage are 1-based inclusive logical page numbers.
	StartPage int
	EndPage   int
	// Text is the extracted source text for the item.
	Text string
	// ParentID links a section to its chapter; empty for top-level items.
	ParentID string
}

// GeneratedScript is the narration text produced for one WorkItem.
type GeneratedScript struct {
	WorkItemID string
	Content    string
	CharCount  int
}

// NewGeneratedScript builds a script for an item, deriving the character
// count from the content.
func NewGeneratedScript(itemID, content string) GeneratedScript {
	return GeneratedScript{
		WorkItemID: itemID,
		Content:    content,
		CharCount:  len([]rune(content)),
	}
}

// ChapterSpec is one detected chapter boundary, before text extraction.
type ChapterSpec struct {
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// GenerationContext carries the surrounding-document hints passed to the
// script generator. All fields are optional.
type GenerationContext struct {
	SeriesTitle   string
	PreviousTitle string
	NextTitle     string
	Style         string
}

// StructureDetector detects chapter boundaries from a sample of the document
// text. Implementations must return at least one entry, falling back to a
// whole-document chapter when nothing usable is detected.
type StructureDetector interface {
	Detect(ctx context.Context, sampleText string, totalPages int) ([]ChapterSpec, error)
}

// ScriptGenerator produces lecture narration text for a single work item.
type ScriptGenerator interface {
	Generate(ctx context.Context, item WorkItem, genCtx GenerationContext) (string, error)
}

// AudioSynthesizer converts narration text into audio bytes using the given
// voice. Implementations are expected to honor context deadlines.
type AudioSynthesizer interface {
	Synthesize(ctx context.Context, text string, voice string) ([]byte, error)
}
