package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReferenceKind is the role a reference document plays in grounding an evaluation.
type ReferenceKind string

const (
	KindJobDescription ReferenceKind = "job_description"
	KindCaseStudyBrief ReferenceKind = "case_study_brief"
	KindScoringRubric  ReferenceKind = "scoring_rubric"
)

// ReferenceKinds lists every kind a job title must have, in fetch order.
var ReferenceKinds = []ReferenceKind{KindJobDescription, KindScoringRubric, KindCaseStudyBrief}

func (k ReferenceKind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

type ReferenceDocument struct {
	JobTitle   string
	Kind       ReferenceKind
	Text       string
	SourcePath string
}

// Grounding is the complete reference triplet for one job title.
type Grounding struct {
	JobTitle       string
	JobDescription string
	CaseStudyBrief string
	ScoringRubric  string
}

type IngestReport struct {
	AlreadyPopulated bool
	Titles           []string
	Documents        int
	Skipped          int
}

// ReferenceStore resolves a job title to its reference documents.
type ReferenceStore interface {
	Initialize(ctx context.Context) error
	FindRelevantJobTitle(ctx context.Context, query string) (string, error)
	FetchReferenceDocument(ctx context.Context, jobTitle string, kind ReferenceKind) (string, error)
	FetchGrounding(ctx context.Context, jobTitle string) (*Grounding, error)
	Ingest(ctx context.Context, dir string, force bool) (*IngestReport, error)
	Reset(ctx context.Context) error
}

type referenceStore struct {
	index     QdrantService
	embedder  Embedder
	extractor TextExtractor
	logger    *zap.Logger
}

func NewReferenceStore(index QdrantService, embedder Embedder, extractor TextExtractor, logger *zap.Logger) ReferenceStore {
	return &referenceStore{
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		logger:    logger,
	}
}

// NormalizeJobTitle maps a directory name or free-form title to its stored key,
// e.g. "Backend Engineer 2025" -> "backend_engineer_2025".
func NormalizeJobTitle(title string) string {
	return strings.ReplaceAll(slug.Make(title), "-", "_")
}

// Initialize implements ReferenceStore.
func (s *referenceStore) Initialize(ctx context.Context) error {
	if err := s.index.InitCollection(ctx); err != nil {
		return newError(KindStoreUnavailable, err)
	}
	return nil
}

// FindRelevantJobTitle implements ReferenceStore.
func (s *referenceStore) FindRelevantJobTitle(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", newErrorf(KindJobNotFound, "empty job title query")
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return "", err
	}

	results, err := s.index.SearchNearest(ctx, embedding, 1)
	if err != nil {
		return "", newError(KindStoreUnavailable, err)
	}
	if len(results) == 0 || results[0].JobTitle == "" {
		return "", newErrorf(KindJobNotFound, "no reference documents match %q", query)
	}

	s.logger.Debug("job title resolved",
		zap.String("query", query),
		zap.String("job_title", results[0].JobTitle),
		zap.Float32("score", results[0].Score),
	)
	return results[0].JobTitle, nil
}

// FetchReferenceDocument implements ReferenceStore. The lookup is an exact metadata
// match, never a similarity search.
func (s *referenceStore) FetchReferenceDocument(ctx context.Context, jobTitle string, kind ReferenceKind) (string, error) {
	results, err := s.index.FindByMetadata(ctx, map[string]string{
		payloadJobTitle: jobTitle,
		payloadDocKind:  string(kind),
	}, 2)
	if err != nil {
		return "", newError(KindStoreUnavailable, err)
	}

	if len(results) > 1 {
		s.logger.Warn("duplicate reference documents",
			zap.String("job_title", jobTitle),
			zap.String("doc_kind", string(kind)),
		)
	}

	for _, result := range results {
		if strings.TrimSpace(result.Text) != "" {
			return result.Text, nil
		}
	}

	titled, err := s.index.FindByMetadata(ctx, map[string]string{payloadJobTitle: jobTitle}, 1)
	if err != nil {
		return "", newError(KindStoreUnavailable, err)
	}
	if len(titled) == 0 {
		return "", newErrorf(KindJobNotFound, "no reference documents for job title %q", jobTitle)
	}

	return "", &EvaluationError{
		Kind:         KindDocumentMissing,
		DocumentKind: kind,
		Err:          fmt.Errorf("job title %q has no %s", jobTitle, kind.Label()),
	}
}

// FetchGrounding implements ReferenceStore. The three lookups run concurrently; when
// several fail, the first in ReferenceKinds order is reported.
func (s *referenceStore) FetchGrounding(ctx context.Context, jobTitle string) (*Grounding, error) {
	texts := make([]string, len(ReferenceKinds))
	errs := make([]error, len(ReferenceKinds))

	var g errgroup.Group
	for i, kind := range ReferenceKinds {
		g.Go(func() error {
			texts[i], errs[i] = s.FetchReferenceDocument(ctx, jobTitle, kind)
			return errs[i]
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	grounding := &Grounding{JobTitle: jobTitle}
	for i, kind := range ReferenceKinds {
		switch kind {
		case KindJobDescription:
			grounding.JobDescription = texts[i]
		case KindScoringRubric:
			grounding.ScoringRubric = texts[i]
		case KindCaseStudyBrief:
			grounding.CaseStudyBrief = texts[i]
		}
	}
	return grounding, nil
}

// Reset implements ReferenceStore. It drops every reference document.
func (s *referenceStore) Reset(ctx context.Context) error {
	if err := s.index.ResetCollection(ctx); err != nil {
		return fmt.Errorf("failed to reset reference collection: %w", err)
	}
	s.logger.Info("reference collection cleared")
	return nil
}

// Ingest implements ReferenceStore. Each first-level directory under dir is a job title
// holding one file per reference kind. Bad files are logged and skipped.
func (s *referenceStore) Ingest(ctx context.Context, dir string, force bool) (*IngestReport, error) {
	report := &IngestReport{}

	if force {
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
	} else {
		count, err := s.index.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect reference collection: %w", err)
		}
		if count > 0 {
			s.logger.Info("reference corpus already ingested, skipping", zap.Uint64("documents", count))
			report.AlreadyPopulated = true
			return report, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		title := NormalizeJobTitle(entry.Name())
		if title == "" {
			s.logger.Warn("skipping directory with empty title", zap.String("dir", entry.Name()))
			continue
		}

		ingested := s.ingestTitle(ctx, filepath.Join(dir, entry.Name()), title, report)
		if len(ingested) > 0 {
			report.Titles = append(report.Titles, title)
		}

		for _, kind := range ReferenceKinds {
			if !ingested[kind] {
				s.logger.Warn("job title is missing a reference document",
					zap.String("job_title", title),
					zap.String("doc_kind", string(kind)),
				)
			}
		}
	}

	sort.Strings(report.Titles)
	s.logger.Info("reference ingestion finished",
		zap.Strings("titles", report.Titles),
		zap.Int("documents", report.Documents),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *referenceStore) ingestTitle(ctx context.Context, dir, title string, report *IngestReport) map[ReferenceKind]bool {
	ingested := make(map[ReferenceKind]bool)

	files, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("failed to read job title directory", zap.String("dir", dir), zap.Error(err))
		return ingested
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(dir, file.Name())
		log := s.logger.With(zap.String("job_title", title), zap.String("file", path))

		kind, ok := DetectReferenceKind(file.Name())
		if !ok || !s.extractor.Supports(path) {
			log.Warn("skipping unrecognized reference file")
			report.Skipped++
			continue
		}

		text, err := s.extractor.ExtractText(path)
		if err != nil {
			log.Warn("skipping unreadable reference file", zap.Error(err))
			report.Skipped++
			continue
		}

		embedding, err := s.embedder.GenerateEmbedding(ctx, embeddingText(title, kind, text))
		if err != nil {
			log.Warn("failed to embed reference file", zap.Error(err))
			report.Skipped++
			continue
		}

		doc := ReferenceDocument{JobTitle: title, Kind: kind, Text: text, SourcePath: path}
		if err := s.index.UpsertReference(ctx, doc, embedding); err != nil {
			log.Warn("failed to store reference file", zap.Error(err))
			report.Skipped++
			continue
		}

		if ingested[kind] {
			log.Warn("duplicate reference kind, last file wins", zap.String("doc_kind", string(kind)))
		} else {
			report.Documents++
		}
		ingested[kind] = true
		log.Info("reference document ingested", zap.String("doc_kind", string(kind)), zap.Int("chars", len(text)))
	}

	return ingested
}

// DetectReferenceKind applies the file naming convention:
// *rubric*/*scoring* -> scoring rubric, *case*/*brief* -> case study brief,
// *description*/*jd* -> job description.
func DetectReferenceKind(fileName string) (ReferenceKind, bool) {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	tokens := strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	has := func(words ...string) bool {
		for _, token := range tokens {
			for _, word := range words {
				if token == word {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("rubric", "scoring"):
		return KindScoringRubric, true
	case has("case", "brief"):
		return KindCaseStudyBrief, true
	case has("description", "jd"):
		return KindJobDescription, true
	default:
		return "", false
	}
}

func embeddingText(title string, kind ReferenceKind, text string) string {
	return fmt.Sprintf("Job title: %s\nDocument: %s\n\n%s", strings.ReplaceAll(title, "_", " "), kind.Label(), text)
}

// IsReferenceError reports whether err came from resolving reference documents.
func IsReferenceError(err error) bool {
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return false
	}
	return evalErr.Kind == KindJobNotFound || evalErr.Kind == KindDocumentMissing
}
