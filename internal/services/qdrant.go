package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const (
	payloadJobTitle   = "job_title"
	payloadDocKind    = "doc_kind"
	payloadText       = "text"
	payloadSourcePath = "source_path"

	defaultVectorSize = 768 // text-embedding-004
)

// referenceNamespace seeds deterministic point ids so re-ingesting a document overwrites it.
var referenceNamespace = uuid.MustParse("6f1c3b52-9a57-4e53-8f3e-2d0c4b7a9e11")

type QdrantService interface {
	InitCollection(ctx context.Context) error
	ResetCollection(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
	UpsertReference(ctx context.Context, doc ReferenceDocument, embedding []float32) error
	SearchNearest(ctx context.Context, queryEmbedding []float32, limit int) ([]SearchResult, error)
	FindByMetadata(ctx context.Context, match map[string]string, limit int) ([]SearchResult, error)
}

type SearchResult struct {
	ID         string
	Score      float32
	JobTitle   string
	DocKind    ReferenceKind
	Text       string
	SourcePath string
}

type qdrantService struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
	logger         *zap.Logger
}

func NewQdrantService(urlStr, apiKey, collectionName string, vectorSize uint64, logger *zap.Logger) (QdrantService, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsed.Hostname()
	useTLS := parsed.Scheme == "https"

	// gRPC port
	port := 6334
	if p := parsed.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if vectorSize == 0 {
		vectorSize = defaultVectorSize
	}

	return &qdrantService{
		client:         client,
		collectionName: collectionName,
		vectorSize:     vectorSize,
		logger:         logger,
	}, nil
}

// ReferencePointID derives the point id for a (job title, kind) pair.
func ReferencePointID(jobTitle string, kind ReferenceKind) string {
	return uuid.NewSHA1(referenceNamespace, []byte(jobTitle+"/"+string(kind))).String()
}

// InitCollection implements QdrantService.
func (q *qdrantService) InitCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		q.logger.Info("qdrant collection already exists", zap.String("collection", q.collectionName))
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Keyword indexes back the exact (title, kind) lookups.
	for _, field := range []string{payloadJobTitle, payloadDocKind} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create %s index: %w", field, err)
		}
	}

	q.logger.Info("qdrant collection created", zap.String("collection", q.collectionName))
	return nil
}

// ResetCollection implements QdrantService.
func (q *qdrantService) ResetCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collectionName); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}
	return q.InitCollection(ctx)
}

// Count implements QdrantService.
func (q *qdrantService) Count(ctx context.Context) (uint64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}

// UpsertReference implements QdrantService.
func (q *qdrantService) UpsertReference(ctx context.Context, doc ReferenceDocument, embedding []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(ReferencePointID(doc.JobTitle, doc.Kind)),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			payloadJobTitle:   doc.JobTitle,
			payloadDocKind:    string(doc.Kind),
			payloadText:       doc.Text,
			payloadSourcePath: doc.SourcePath,
		}),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// SearchNearest implements QdrantService.
func (q *qdrantService) SearchNearest(ctx context.Context, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		result := searchResultFromPayload(point.GetId(), point.GetPayload())
		result.Score = point.GetScore()
		results = append(results, result)
	}

	return results, nil
}

// FindByMetadata implements QdrantService. All pairs in match must hold exactly.
func (q *qdrantService) FindByMetadata(ctx context.Context, match map[string]string, limit int) ([]SearchResult, error) {
	conditions := make([]*qdrant.Condition, 0, len(match))
	for key, value := range match {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collectionName,
		Filter:         &qdrant.Filter{Must: conditions},
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, searchResultFromPayload(point.GetId(), point.GetPayload()))
	}

	return results, nil
}

func searchResultFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) SearchResult {
	return SearchResult{
		ID:         id.GetUuid(),
		JobTitle:   payload[payloadJobTitle].GetStringValue(),
		DocKind:    ReferenceKind(payload[payloadDocKind].GetStringValue()),
		Text:       payload[payloadText].GetStringValue(),
		SourcePath: payload[payloadSourcePath].GetStringValue(),
	}
}
