// Package validate checks generated narration scripts against length and
// structure policy before they are accepted into the pipeline.
package validate

import (
	"fmt"
	"strings"

	"github.com/book-expert/logger"
)

// Format selects the narration style being validated.
type Format int

const (
	// FormatLecture is the authoritative single-speaker mode.
	FormatLecture Format = iota
	// FormatDialogue validates two-speaker Host/Guest scripts.
	FormatDialogue
)

// Lecture thresholds, in characters and paragraphs.
const (
	lectureMaxChars        = 6000
	lectureWarnChars       = 5400
	lectureMinChars        = 200
	lectureMinParagraphs   = 3
	lectureMaxParagraphLen = 1200
)

// Dialogue thresholds, from the two-speaker deployment.
const (
	dialogueMaxLines   = 25
	dialogueWarnLines  = 20
	dialogueMaxChars   = 2000
	dialogueWarnChars  = 1800
	dialogueMinChars   = 200
	dialogueMaxTurnLen = 300
	dialogueMinBalance = 0.3

	speakerHost  = "Host"
	speakerGuest = "Guest"
)

// Result aggregates the findings of one validation pass. Errors block
// acceptance; warnings are advisory only.
type Result struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether the script passed without errors.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// HasWarnings reports whether any advisory findings were produced.
func (r Result) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Validator applies the per-format policy to generated scripts.
type Validator struct {
	format Format
	log    *logger.Logger
}

// New creates a Validator for the given narration format.
func New(format Format, log *logger.Logger) *Validator {
	return &Validator{format: format, log: log}
}

// Validate checks a script's length and structure.
func (v *Validator) Validate(content string) Result {
	switch v.format {
	case FormatDialogue:
		return v.validateDialogue(content)
	case FormatLecture:
		return v.validateLecture(content)
	default:
		return v.validateLecture(content)
	}
}

func (v *Validator) validateLecture(content string) Result {
	var result Result

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		result.Errors = append(result.Errors, "script content is empty")

		return result
	}

	chars := len([]rune(trimmed))
	if chars > lectureMaxChars {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"character count exceeds limit: %d chars (limit: %d)",
			chars, lectureMaxChars,
		))
	} else if chars > lectureWarnChars {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"character count is high: %d chars (recommended: %d or fewer)",
			chars, lectureWarnChars,
		))
	}

	if chars < lectureMinChars {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"character count is low: %d chars (recommended: %d or more)",
			chars, lectureMinChars,
		))
	}

	paragraphs := splitParagraphs(trimmed)
	if len(paragraphs) < lectureMinParagraphs {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"few paragraphs: %d (recommended: %d or more)",
			len(paragraphs), lectureMinParagraphs,
		))
	}

	longest := 0
	for _, paragraph := range paragraphs {
		if n := len([]rune(paragraph)); n > longest {
			longest = n
		}
	}

	if longest > lectureMaxParagraphLen {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"overly long paragraph: %d chars (recommended: %d or fewer)",
			longest, lectureMaxParagraphLen,
		))
	}

	return result
}

func (v *Validator) validateDialogue(content string) Result {
	var result Result

	turns := parseTurns(content)
	if len(turns) == 0 {
		result.Errors = append(result.Errors, "dialogue has no turns")

		return result
	}

	if len(turns) > dialogueWarnLines {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"many dialogue turns: %d (recommended: %d or fewer)",
			len(turns), dialogueWarnLines,
		))
	}

	if len(turns) > dialogueMaxLines {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"dialogue turns exceed limit: %d (limit: %d)",
			len(turns), dialogueMaxLines,
		))
	}

	chars := 0
	hostTurns := 0
	guestTurns := 0
	longest := 0

	for _, turn := range turns {
		n := len([]rune(turn.text))
		chars += n

		if n > longest {
			longest = n
		}

		switch turn.speaker {
		case speakerHost:
			hostTurns++
		case speakerGuest:
			guestTurns++
		}
	}

	if chars > dialogueWarnChars {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"character count is high: %d chars (recommended: %d or fewer)",
			chars, dialogueWarnChars,
		))
	}

	if chars > dialogueMaxChars {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"character count exceeds limit: %d chars (limit: %d)",
			chars, dialogueMaxChars,
		))
	}

	if chars < dialogueMinChars {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"character count is low: %d chars (recommended: %d or more)",
			chars, dialogueMinChars,
		))
	}

	switch {
	case hostTurns == 0:
		result.Errors = append(result.Errors, "no Host turns present")
	case guestTurns == 0:
		result.Errors = append(result.Errors, "no Guest turns present")
	default:
		minority := hostTurns
		majority := guestTurns

		if minority > majority {
			minority, majority = majority, minority
		}

		if float64(minority)/float64(majority) < dialogueMinBalance {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"speaker balance is skewed (Host: %d turns, Guest: %d turns)",
				hostTurns, guestTurns,
			))
		}
	}

	if longest > dialogueMaxTurnLen {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"overly long turn: %d chars (recommended: %d or fewer)",
			longest, dialogueMaxTurnLen,
		))
	}

	return result
}

// LogResults writes the findings for one item at matching severities.
func (v *Validator) LogResults(result Result, itemID string) {
	for _, msg := range result.Errors {
		v.log.Error("Script validation error for '%s': %s", itemID, msg)
	}

	for _, msg := range result.Warnings {
		v.log.Warn("Script validation warning for '%s': %s", itemID, msg)
	}

	for _, hint := range Suggestions(result) {
		v.log.Info("Suggestion for '%s': %s", itemID, hint)
	}

	if result.IsValid() && !result.HasWarnings() {
		v.log.Info("Script validation for '%s': no findings", itemID)
	}
}

// Suggestions maps triggered rules to operator-facing improvement hints.
// Purely advisory; the caller's control flow never depends on them.
func Suggestions(result Result) []string {
	var suggestions []string

	for _, finding := range append(result.Errors, result.Warnings...) {
		switch {
		case strings.Contains(finding, "exceeds limit"):
			suggestions = append(suggestions,
				"shorten the narration and focus on the key points")
		case strings.Contains(finding, "is empty"), strings.Contains(finding, "no turns"):
			suggestions = append(suggestions,
				"regenerate the script; the model returned no usable content")
		case strings.Contains(finding, "no Host turns"),
			strings.Contains(finding, "no Guest turns"):
			suggestions = append(suggestions,
				"include turns for both Host and Guest")
		case strings.Contains(finding, "balance is skewed"):
			suggestions = append(suggestions,
				"balance the number of turns between speakers")
		case strings.Contains(finding, "overly long"):
			suggestions = append(suggestions,
				"split long passages into several shorter ones")
		case strings.Contains(finding, "count is low"),
			strings.Contains(finding, "few paragraphs"):
			suggestions = append(suggestions,
				"expand the narration with more detail")
		case strings.Contains(finding, "count is high"),
			strings.Contains(finding, "many dialogue turns"):
			suggestions = append(suggestions,
				"trim the script to keep synthesis fast and reliable")
		}
	}

	return suggestions
}

type turn struct {
	speaker string
	text    string
}

// parseTurns extracts Host:/Guest: turns from a dialogue script, folding
// continuation lines into the preceding turn.
func parseTurns(content string) []turn {
	var (
		turns   []turn
		current *turn
	)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, speakerHost+":"):
			if current != nil {
				turns = append(turns, *current)
			}

			current = &turn{
				speaker: speakerHost,
				text:    strings.TrimSpace(strings.TrimPrefix(line, speakerHost+":")),
			}
		case strings.HasPrefix(line, speakerGuest+":"):
			if current != nil {
				turns = append(turns, *current)
			}

			current = &turn{
				speaker: speakerGuest,
				text:    strings.TrimSpace(strings.TrimPrefix(line, speakerGuest+":")),
			}
		default:
			if current != nil {
				current.text += " " + line
			}
		}
	}

	if current != nil {
		turns = append(turns, *current)
	}

	return turns
}

func splitParagraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")

	var paragraphs []string
	for _, block := range strings.Split(normalized, "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return paragraphs
}
