package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"go.uber.org/zap"
)

// PDFTextExtractor converts a downloaded PDF into plain text, one unit
// per page, concatenated in order.
type PDFTextExtractor struct {
	logger *zap.Logger
}

func NewPDFTextExtractor(logger *zap.Logger) *PDFTextExtractor {
	return &PDFTextExtractor{logger: logger}
}

// ExtractText returns the document text, or an empty string when the PDF
// yields nothing extractable. Absence of text is a soft miss, not an
// error.
func (p *PDFTextExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat pdf %s: %w", path, err)
	}

	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("parse pdf %s: %w", path, err)
	}
	if len(docs) == 0 {
		p.logger.Warn("no text extracted from pdf", zap.String("path", path))
		return "", nil
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.PageContent)
	}
	text := strings.Join(parts, "\n")
	p.logger.Info("extracted pdf text",
		zap.String("path", path),
		zap.Int("pages", len(docs)),
		zap.Int("chars", len(text)))
	return text, nil
}
