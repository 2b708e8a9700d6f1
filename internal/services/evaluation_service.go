package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
)

var ErrInvalidSubmission = errors.New("invalid submission")

type SubmitRequest struct {
	JobTitle          string
	CVDocumentID      uuid.UUID
	ProjectDocumentID uuid.UUID
}

// EvaluationService accepts evaluation jobs and reports their status. It never waits
// on the pipeline.
type EvaluationService interface {
	Submit(ctx context.Context, req SubmitRequest) (*models.Evaluation, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*models.ResultResponse, error)
}

type evaluationService struct {
	evalRepo repositories.EvaluationRepository
	docRepo  repositories.DocumentRepository
	queue    Queue
	logger   *zap.Logger
}

func NewEvaluationService(
	evalRepo repositories.EvaluationRepository,
	docRepo repositories.DocumentRepository,
	queue Queue,
	logger *zap.Logger,
) EvaluationService {
	return &evaluationService{
		evalRepo: evalRepo,
		docRepo:  docRepo,
		queue:    queue,
		logger:   logger,
	}
}

// Submit implements EvaluationService. The job is durable once the row is written, so
// an enqueue failure is only logged and left to the recovery poller.
func (s *evaluationService) Submit(ctx context.Context, req SubmitRequest) (*models.Evaluation, error) {
	jobTitle := strings.TrimSpace(req.JobTitle)
	if jobTitle == "" {
		return nil, fmt.Errorf("%w: job title is required", ErrInvalidSubmission)
	}
	if req.CVDocumentID == uuid.Nil || req.ProjectDocumentID == uuid.Nil {
		return nil, fmt.Errorf("%w: document ids are required", ErrInvalidSubmission)
	}

	docs, err := s.docRepo.FindByIDs(ctx, []uuid.UUID{req.CVDocumentID, req.ProjectDocumentID})
	if err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool, len(docs))
	for _, doc := range docs {
		found[doc.ID] = true
	}
	if !found[req.CVDocumentID] {
		return nil, fmt.Errorf("%w: cv %s", repositories.ErrDocumentNotFound, req.CVDocumentID)
	}
	if !found[req.ProjectDocumentID] {
		return nil, fmt.Errorf("%w: project report %s", repositories.ErrDocumentNotFound, req.ProjectDocumentID)
	}

	evaluation := &models.Evaluation{
		ID:                uuid.New(),
		JobTitle:          jobTitle,
		CVDocumentID:      req.CVDocumentID,
		ProjectDocumentID: req.ProjectDocumentID,
	}
	if err := s.evalRepo.Create(ctx, evaluation); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, NewTask(evaluation)); err != nil {
		s.logger.Warn("failed to enqueue evaluation, recovery will pick it up",
			zap.String("job_id", evaluation.ID.String()),
			zap.Error(err),
		)
	} else {
		s.logger.Info("📥 evaluation enqueued",
			zap.String("job_id", evaluation.ID.String()),
			zap.String("job_title", jobTitle),
		)
	}

	return evaluation, nil
}

// GetStatus implements EvaluationService.
func (s *evaluationService) GetStatus(ctx context.Context, id uuid.UUID) (*models.ResultResponse, error) {
	evaluation, err := s.evalRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	response := &models.ResultResponse{
		ID:         evaluation.ID.String(),
		JobTitle:   evaluation.JobTitle,
		Status:     string(evaluation.Status),
		RetryCount: evaluation.RetryCount,
	}

	switch evaluation.Status {
	case models.StatusCompleted:
		if result := evaluation.Result; result != nil {
			response.Result = &models.EvaluationData{
				CVMatchRate:     result.CVMatchRate,
				CVFeedback:      result.CVFeedback,
				ProjectScore:    result.ProjectScore,
				ProjectFeedback: result.ProjectFeedback,
				OverallSummary:  result.OverallSummary,
				Recommendation:  result.Recommendation,
			}
		}
	case models.StatusFailed:
		response.ErrorMessage = evaluation.ErrorMessage
	}

	return response, nil
}
