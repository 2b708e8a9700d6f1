package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"alfredoptarigan/cv-screening/internal/models"
)

// EvaluationRepository is the durable record of every evaluation job and its result.
type EvaluationRepository interface {
	Create(ctx context.Context, eval *models.Evaluation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Evaluation, error)
	Transition(ctx context.Context, id uuid.UUID, status models.EvaluationStatus, errorMsg string) error
	AttachResult(ctx context.Context, id uuid.UUID, result *models.EvaluationResult) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
	FindPendingJobs(ctx context.Context, limit int) ([]models.Evaluation, error)
	FindStalledJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.Evaluation, error)
}

// allowedSources lists the states each target status may be entered from.
// Completed is reachable only through AttachResult.
var allowedSources = map[models.EvaluationStatus][]models.EvaluationStatus{
	models.StatusProcessing: {models.StatusQueued},
	models.StatusFailed:     {models.StatusQueued, models.StatusProcessing},
}

type evaluationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewEvaluationRepository(db *gorm.DB, logger *zap.Logger) EvaluationRepository {
	return &evaluationRepository{db: db, logger: logger}
}

func (r *evaluationRepository) Create(ctx context.Context, eval *models.Evaluation) error {
	if eval.JobTitle == "" || eval.CVDocumentID == uuid.Nil || eval.ProjectDocumentID == uuid.Nil {
		return fmt.Errorf("failed to create evaluation: job title and document ids are required")
	}
	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}
	eval.Status = models.StatusQueued

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(eval).Error; err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}
	return nil
}

func (r *evaluationRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Evaluation, error) {
	var eval models.Evaluation
	err := r.db.WithContext(ctx).
		Preload("Result").
		Where("id = ?", id).
		First(&eval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEvaluationNotFound
		}
		return nil, fmt.Errorf("failed to find evaluation: %w", err)
	}
	return &eval, nil
}

// Transition moves an evaluation to status. A missing row is logged and ignored so
// that the worker loop survives rows deleted out of band.
func (r *evaluationRepository) Transition(ctx context.Context, id uuid.UUID, status models.EvaluationStatus, errorMsg string) error {
	sources, ok := allowedSources[status]
	if !ok {
		return fmt.Errorf("%w: cannot set %s directly", ErrInvalidTransition, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == models.StatusFailed {
		if strings.TrimSpace(errorMsg) == "" {
			return fmt.Errorf("%w: failed status requires an error message", ErrInvalidTransition)
		}
		updates["error_message"] = errorMsg
	}

	result := r.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.currentStatus(ctx, r.db, id)
	if errors.Is(err, ErrEvaluationNotFound) {
		r.logger.Warn("evaluation vanished before status transition",
			zap.String("job_id", id.String()),
			zap.String("status", string(status)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// AttachResult stores the result and completes the evaluation in one transaction.
func (r *evaluationRepository) AttachResult(ctx context.Context, id uuid.UUID, result *models.EvaluationResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		update := tx.Model(&models.Evaluation{}).
			Where("id = ? AND status = ?", id, models.StatusProcessing).
			Updates(map[string]interface{}{
				"status":        models.StatusCompleted,
				"error_message": nil,
				"updated_at":    now,
			})
		if update.Error != nil {
			return fmt.Errorf("failed to update result: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			current, err := r.currentStatus(ctx, tx, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, models.StatusCompleted)
		}

		if result.ID == uuid.Nil {
			result.ID = uuid.New()
		}
		result.EvaluationID = id
		result.CreatedAt = now
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		return nil
	})
}

func (r *evaluationRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment retry count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEvaluationNotFound
	}
	return nil
}

// Touch records progress on a running evaluation.
func (r *evaluationRepository) Touch(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Evaluation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("failed to touch evaluation: %w", result.Error)
	}
	return nil
}

func (r *evaluationRepository) FindPendingJobs(ctx context.Context, limit int) ([]models.Evaluation, error) {
	var evals []models.Evaluation
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusQueued).
		Order("created_at ASC").
		Limit(limit).
		Find(&evals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find pending jobs: %w", err)
	}
	return evals, nil
}

func (r *evaluationRepository) FindStalledJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.Evaluation, error) {
	var evals []models.Evaluation
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&evals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stalled jobs: %w", err)
	}
	return evals, nil
}

func (r *evaluationRepository) currentStatus(ctx context.Context, db *gorm.DB, id uuid.UUID) (models.EvaluationStatus, error) {
	var eval models.Evaluation
	err := db.WithContext(ctx).Select("id", "status").Where("id = ?", id).First(&eval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrEvaluationNotFound
		}
		return "", fmt.Errorf("failed to read evaluation status: %w", err)
	}
	return eval.Status, nil
}
