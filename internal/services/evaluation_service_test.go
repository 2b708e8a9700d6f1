package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
)

func newTestEvaluationService(t *testing.T, queueSize int) (EvaluationService, *memoryEvalRepo, *memoryDocRepo, Queue) {
	t.Helper()
	repo := newMemoryEvalRepo()
	docs := newMemoryDocRepo()
	queue := NewMemoryQueue(queueSize, zap.NewNop())
	t.Cleanup(func() { queue.Close() })
	return NewEvaluationService(repo, docs, queue, zap.NewNop()), repo, docs, queue
}

func TestSubmitValidatesRequest(t *testing.T) {
	service, _, docs, _ := newTestEvaluationService(t, 4)
	ctx := context.Background()
	cv := docs.addTextDocument(t, models.DocumentTypeCV, sampleCV)
	project := docs.addTextDocument(t, models.DocumentTypeProjectReport, sampleProject)

	cases := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"blank title", SubmitRequest{JobTitle: "  ", CVDocumentID: cv, ProjectDocumentID: project}, ErrInvalidSubmission},
		{"nil cv", SubmitRequest{JobTitle: "Backend Engineer", ProjectDocumentID: project}, ErrInvalidSubmission},
		{"unknown cv", SubmitRequest{JobTitle: "Backend Engineer", CVDocumentID: uuid.New(), ProjectDocumentID: project}, repositories.ErrDocumentNotFound},
		{"unknown project", SubmitRequest{JobTitle: "Backend Engineer", CVDocumentID: cv, ProjectDocumentID: uuid.New()}, repositories.ErrDocumentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.Submit(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("Submit() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	service, repo, docs, queue := newTestEvaluationService(t, 4)
	ctx := context.Background()

	eval, err := service.Submit(ctx, SubmitRequest{
		JobTitle:          " Backend Engineer ",
		CVDocumentID:      docs.addTextDocument(t, models.DocumentTypeCV, sampleCV),
		ProjectDocumentID: docs.addTextDocument(t, models.DocumentTypeProjectReport, sampleProject),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if eval.Status != models.StatusQueued || eval.JobTitle != "Backend Engineer" {
		t.Fatalf("unexpected evaluation %+v", eval)
	}

	task := dequeueWithin(t, queue, time.Second)
	if task.JobID != eval.ID || task.Attempt != 1 {
		t.Fatalf("unexpected task %+v", task)
	}
	if _, err := repo.FindByID(ctx, eval.ID); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestSubmitSurvivesFullQueue(t *testing.T) {
	service, repo, docs, queue := newTestEvaluationService(t, 1)
	ctx := context.Background()
	if err := queue.Enqueue(ctx, newTestTask()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	eval, err := service.Submit(ctx, SubmitRequest{
		JobTitle:          "Backend Engineer",
		CVDocumentID:      docs.addTextDocument(t, models.DocumentTypeCV, sampleCV),
		ProjectDocumentID: docs.addTextDocument(t, models.DocumentTypeProjectReport, sampleProject),
	})
	if err != nil {
		t.Fatalf("Submit should not fail on a full queue: %v", err)
	}

	pending, _ := repo.FindPendingJobs(ctx, 10)
	if len(pending) != 1 || pending[0].ID != eval.ID {
		t.Fatalf("job not left for recovery: %+v", pending)
	}
}

func TestGetStatus(t *testing.T) {
	service, repo, _, _ := newTestEvaluationService(t, 4)
	ctx := context.Background()

	if _, err := service.GetStatus(ctx, uuid.New()); !errors.Is(err, repositories.ErrEvaluationNotFound) {
		t.Fatalf("expected ErrEvaluationNotFound, got %v", err)
	}

	newJob := func() uuid.UUID {
		eval := &models.Evaluation{JobTitle: "Backend Engineer", CVDocumentID: uuid.New(), ProjectDocumentID: uuid.New()}
		if err := repo.Create(ctx, eval); err != nil {
			t.Fatalf("Create: %v", err)
		}
		return eval.ID
	}

	failed := newJob()
	if err := repo.Transition(ctx, failed, models.StatusFailed, "AI provider rejected the evaluation request"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	status, err := service.GetStatus(ctx, failed)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != "failed" || status.JobTitle != "Backend Engineer" || status.Result != nil || status.ErrorMessage == nil {
		t.Fatalf("unexpected failed status %+v", status)
	}
	assertStableStatus(t, service, failed, status)

	completed := newJob()
	if err := repo.Transition(ctx, completed, models.StatusProcessing, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := repo.AttachResult(ctx, completed, &models.EvaluationResult{
		CVMatchRate: 0.82, CVFeedback: "good", ProjectScore: 4.2, ProjectFeedback: "solid",
		OverallSummary: validSummary, Recommendation: "Hire",
	}); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}
	status, err = service.GetStatus(ctx, completed)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != "completed" || status.Result == nil || status.ErrorMessage != nil {
		t.Fatalf("unexpected completed status %+v", status)
	}
	if status.Result.CVMatchRate != 0.82 || status.Result.Recommendation != "Hire" {
		t.Fatalf("unexpected result %+v", status.Result)
	}
	assertStableStatus(t, service, completed, status)
}

// assertStableStatus polls a terminal job again and expects the same payload.
func assertStableStatus(t *testing.T, service EvaluationService, id uuid.UUID, first *models.ResultResponse) {
	t.Helper()
	for i := 0; i < 2; i++ {
		again, err := service.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("terminal status changed between reads:\n%+v\n%+v", first, again)
		}
	}
}
