package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"alfredoptarigan/cv-screening/internal/models"
)

func TestCandidateDocumentReader(t *testing.T) {
	docs := newMemoryDocRepo()
	reader := NewCandidateDocumentReader(docs, NewTextExtractor(), 40)
	ctx := context.Background()

	id := docs.addTextDocument(t, models.DocumentTypeCV, "  "+sampleCV+"\n\n")
	text, err := reader.ReadText(ctx, id)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if text != sampleCV {
		t.Fatalf("ReadText() = %q", text)
	}

	short := docs.addTextDocument(t, models.DocumentTypeCV, "Go developer")
	if _, err := reader.ReadText(ctx, short); KindOf(err) != KindInvalidInput {
		t.Fatalf("short document: expected invalid_input, got %v", err)
	}

	if _, err := reader.ReadText(ctx, uuid.New()); KindOf(err) != KindInvalidInput {
		t.Fatalf("unknown document: expected invalid_input, got %v", err)
	}

	docs.err = errBoom
	if _, err := reader.ReadText(ctx, id); KindOf(err) != KindPersistence {
		t.Fatalf("repository failure: expected persistence, got %v", err)
	}
}

func TestCandidateDocumentReaderDefaultMinimum(t *testing.T) {
	docs := newMemoryDocRepo()
	reader := NewCandidateDocumentReader(docs, NewTextExtractor(), 0)

	id := docs.addTextDocument(t, models.DocumentTypeProjectReport, sampleProject)
	if _, err := reader.ReadText(context.Background(), id); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected the %d character default to reject a short report, got %v", defaultMinDocumentChars, err)
	}
}
