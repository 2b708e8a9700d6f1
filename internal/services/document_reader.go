package services

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"alfredoptarigan/cv-screening/internal/repositories"
)

const defaultMinDocumentChars = 200

// CandidateDocumentReader resolves an uploaded document to its plain text.
type CandidateDocumentReader interface {
	ReadText(ctx context.Context, docID uuid.UUID) (string, error)
}

type candidateDocumentReader struct {
	docRepo   repositories.DocumentRepository
	extractor TextExtractor
	minChars  int
}

func NewCandidateDocumentReader(docRepo repositories.DocumentRepository, extractor TextExtractor, minChars int) CandidateDocumentReader {
	if minChars <= 0 {
		minChars = defaultMinDocumentChars
	}
	return &candidateDocumentReader{
		docRepo:   docRepo,
		extractor: extractor,
		minChars:  minChars,
	}
}

// ReadText implements CandidateDocumentReader.
func (r *candidateDocumentReader) ReadText(ctx context.Context, docID uuid.UUID) (string, error) {
	doc, err := r.docRepo.FindByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return "", newError(KindInvalidInput, err)
		}
		return "", newError(KindPersistence, err)
	}

	text, err := r.extractor.ExtractText(doc.FilePath)
	if err != nil {
		return "", newError(KindInvalidInput, fmt.Errorf("failed to extract %s text: %w", doc.FileType, err))
	}

	if n := utf8.RuneCountInString(text); n < r.minChars {
		return "", newErrorf(KindInvalidInput, "%s %s has %d characters, minimum is %d", doc.FileType, docID, n, r.minChars)
	}

	return text, nil
}
