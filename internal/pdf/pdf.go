// Package pdf extracts page counts and text from PDF files by shelling out
// to the poppler utilities (pdfinfo, pdftotext).
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
)

const (
	pdfinfoBinary   = "pdfinfo"
	pdftotextBinary = "pdftotext"

	// Structure detection reads at most this many pages, truncated to
	// sampleMaxChars, to keep the detection prompt within token limits.
	samplePages    = 20
	sampleMaxChars = 50000
)

// Static errors.
var (
	ErrPDFNotFound    = errors.New("pdf file not found")
	ErrPageRange      = errors.New("invalid page range")
	ErrPagesNotListed = errors.New("pdfinfo output does not list a page count")
)

// Parser reads one PDF file. The page offset maps logical page numbers (as
// printed in the document body and reported by structure detection) to
// physical PDF pages: physical = logical + offset.
type Parser struct {
	path       string
	pageOffset int
	log        *logger.Logger
}

// NewParser creates a parser for the given file.
func NewParser(path string, pageOffset int, log *logger.Logger) (*Parser, error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPDFNotFound, path, statErr)
	}

	return &Parser{
		path:       path,
		pageOffset: pageOffset,
		log:        log,
	}, nil
}

// Path returns the file the parser reads.
func (p *Parser) Path() string {
	return p.path
}

// PageCount returns the number of physical pages in the file.
func (p *Parser) PageCount(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, pdfinfoBinary, p.path)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return 0, fmt.Errorf(
			"pdfinfo execution failed: %w - output: %s",
			runErr,
			string(output),
		)
	}

	return parsePageCount(string(output))
}

// ExtractPages returns the text of an inclusive 1-based logical page range.
// The parser's page offset is applied and the range is clamped to the file's
// physical page count.
func (p *Parser) ExtractPages(ctx context.Context, startPage, endPage int) (string, error) {
	if startPage < 1 || endPage < startPage {
		return "", fmt.Errorf("%w: %d-%d", ErrPageRange, startPage, endPage)
	}

	totalPages, countErr := p.PageCount(ctx)
	if countErr != nil {
		return "", countErr
	}

	firstPage := startPage + p.pageOffset
	lastPage := endPage + p.pageOffset

	if firstPage > totalPages {
		return "", fmt.Errorf(
			"%w: page %d is beyond the last physical page %d",
			ErrPageRange,
			firstPage,
			totalPages,
		)
	}

	if lastPage > totalPages {
		p.log.Warn(
			"Clamping page range %d-%d to last physical page %d",
			firstPage,
			lastPage,
			totalPages,
		)

		lastPage = totalPages
	}

	return p.extractRange(ctx, firstPage, lastPage)
}

// SampleText returns the text of the file's opening pages, truncated, for
// structure detection.
func (p *Parser) SampleText(ctx context.Context) (string, error) {
	totalPages, countErr := p.PageCount(ctx)
	if countErr != nil {
		return "", countErr
	}

	lastPage := samplePages
	if totalPages < lastPage {
		lastPage = totalPages
	}

	text, extractErr := p.extractRange(ctx, 1, lastPage)
	if extractErr != nil {
		return "", extractErr
	}

	return truncateRunes(text, sampleMaxChars), nil
}

func (p *Parser) extractRange(ctx context.Context, firstPage, lastPage int) (string, error) {
	args := []string{
		"-f", strconv.Itoa(firstPage),
		"-l", strconv.Itoa(lastPage),
		"-enc", "UTF-8",
		p.path,
		"-",
	}

	cmd := exec.CommandContext(ctx, pdftotextBinary, args...)

	var stdout, stderr strings.Builder

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return "", fmt.Errorf(
			"pdftotext execution failed: %w - stderr: %s",
			runErr,
			stderr.String(),
		)
	}

	return stdout.String(), nil
}

// parsePageCount finds the "Pages:" line in pdfinfo output.
func parsePageCount(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		value, found := strings.CutPrefix(line, "Pages:")
		if !found {
			continue
		}

		pages, parseErr := strconv.Atoi(strings.TrimSpace(value))
		if parseErr != nil {
			return 0, fmt.Errorf("failed to parse page count %q: %w", value, parseErr)
		}

		return pages, nil
	}

	return 0, ErrPagesNotListed
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit])
}
