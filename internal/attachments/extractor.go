package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor pulls plain text out of documents with docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts r according to contentType and returns its non-empty
// lines joined by newlines.
func (e *DocconvExtractor) ExtractText(ctx context.Context, r io.Reader, contentType string) (string, error) {
	res, err := docconv.Convert(r, contentType, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("docconv: %s: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var lines []string
	for _, line := range strings.Split(res.Body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Describer renders messages as assistant context lines. Attachments are
// summarised instead of passing base64 to the model.
type Describer struct {
	extractor core.TextExtractor
	maxChars  int
	logger    *slog.Logger
}

func NewDescriber(extractor core.TextExtractor, logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{extractor: extractor, maxChars: 500, logger: logger}
}

func fileName(m models.Message) string {
	if m.FileName != nil && *m.FileName != "" {
		return *m.FileName
	}
	return "attachment"
}

// Describe returns the context line for m.
func (d *Describer) Describe(ctx context.Context, m models.Message) string {
	switch m.MessageType {
	case models.MessageImage:
		return "[image: " + fileName(m) + "]"
	case models.MessageFile:
		label := "[file: " + fileName(m) + "]"
		if d == nil || d.extractor == nil {
			return label
		}
		contentType, data, err := DecodeDataURI(m.Content)
		if err != nil {
			return label
		}
		text, err := d.extractor.ExtractText(ctx, bytes.NewReader(data), contentType)
		if err != nil {
			d.logger.Debug("attachment text extraction failed", "file", fileName(m), "error", err)
			return label
		}
		if text = strings.TrimSpace(text); text == "" {
			return label
		}
		if r := []rune(text); len(r) > d.maxChars {
			text = string(r[:d.maxChars]) + "…"
		}
		return label + " " + strings.ReplaceAll(text, "\n", " ")
	default:
		return m.Content
	}
}
