package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
)

type EvaluationInput struct {
	JobTitle    string
	CVText      string
	ProjectText string
	// OnStage, when set, is called before each stage starts.
	OnStage func(StageName)
}

// PipelineResult holds every validated artifact of one successful pipeline run.
type PipelineResult struct {
	JobTitle          string
	ParsedCV          *ParsedCV
	CVEvaluation      *CVEvaluation
	ParsedProject     *ParsedProject
	ProjectEvaluation *ProjectEvaluation
	Summary           string
	Recommendation    string
}

// Record converts the result into the row stored alongside a completed evaluation.
func (r *PipelineResult) Record(evaluationID uuid.UUID) (*models.EvaluationResult, error) {
	parsedCV, err := json.Marshal(r.ParsedCV)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parsed CV: %w", err)
	}
	parsedProject, err := json.Marshal(r.ParsedProject)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parsed project: %w", err)
	}

	return &models.EvaluationResult{
		EvaluationID:    evaluationID,
		CVMatchRate:     *r.CVEvaluation.MatchRate,
		CVFeedback:      r.CVEvaluation.Feedback,
		ProjectScore:    r.ProjectEvaluation.ProjectScore,
		ProjectFeedback: r.ProjectEvaluation.Feedback,
		OverallSummary:  r.Summary,
		Recommendation:  r.Recommendation,
		ParsedCV:        string(parsedCV),
		ParsedProject:   string(parsedProject),
	}, nil
}

// EvaluatorService runs the staged evaluation pipeline for one candidate.
type EvaluatorService interface {
	Evaluate(ctx context.Context, input EvaluationInput) (*PipelineResult, error)
}

type evaluatorService struct {
	stages []Stage
	logger *zap.Logger
}

func NewEvaluatorService(refStore ReferenceStore, gateway ModelGateway, logger *zap.Logger) EvaluatorService {
	return newEvaluatorService(NewEvaluationStages(refStore, gateway, NewPromptBuilder()), logger)
}

func newEvaluatorService(stages []Stage, logger *zap.Logger) *evaluatorService {
	return &evaluatorService{stages: stages, logger: logger}
}

// Evaluate implements EvaluatorService. Stages run strictly in order and the first
// failure stops the run, tagged with the stage it came from.
func (e *evaluatorService) Evaluate(ctx context.Context, input EvaluationInput) (*PipelineResult, error) {
	state := &PipelineState{Input: input}
	log := e.logger.With(zap.String("job_title", input.JobTitle))

	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			return nil, withStage(stage.Name, err)
		}
		if input.OnStage != nil {
			input.OnStage(stage.Name)
		}

		started := time.Now()
		if err := stage.Run(ctx, state); err != nil {
			tagged := withStage(stage.Name, err)
			log.Warn("evaluation stage failed",
				zap.String("stage", string(stage.Name)),
				zap.String("kind", string(KindOf(tagged))),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
			return nil, tagged
		}

		log.Debug("evaluation stage finished",
			zap.String("stage", string(stage.Name)),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	if state.Grounding == nil || state.ParsedCV == nil || state.CVEvaluation == nil ||
		state.ParsedProject == nil || state.ProjectEvaluation == nil || state.Summary == nil {
		return nil, newErrorf(KindUnknown, "pipeline finished without all stage outputs")
	}

	return &PipelineResult{
		JobTitle:          state.Grounding.JobTitle,
		ParsedCV:          state.ParsedCV,
		CVEvaluation:      state.CVEvaluation,
		ParsedProject:     state.ParsedProject,
		ProjectEvaluation: state.ProjectEvaluation,
		Summary:           state.Summary.Text,
		Recommendation:    state.Summary.Recommendation,
	}, nil
}
