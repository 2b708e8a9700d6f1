package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"alfredoptarigan/cv-screening/internal/models"
)

func newMockRepository(t *testing.T) (EvaluationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return NewEvaluationRepository(gdb, zap.NewNop()), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestTransitionToProcessing(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "evaluations" SET`).
		WithArgs(models.StatusProcessing, sqlmock.AnyArg(), id, models.StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Transition(context.Background(), id, models.StatusProcessing, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	expectationsMet(t, mock)
}

func TestTransitionMissingRowIsIgnored(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "evaluations" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "id","status" FROM "evaluations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	if err := repo.Transition(context.Background(), id, models.StatusFailed, "Evaluation timed out, please try again"); err != nil {
		t.Fatalf("Transition on a missing row: %v", err)
	}
	expectationsMet(t, mock)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "evaluations" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "id","status" FROM "evaluations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id.String(), string(models.StatusCompleted)))

	err := repo.Transition(context.Background(), id, models.StatusProcessing, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestTransitionGuards(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	if err := repo.Transition(ctx, uuid.New(), models.StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed must go through AttachResult, got %v", err)
	}
	if err := repo.Transition(ctx, uuid.New(), models.StatusFailed, "  "); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed without a message should be rejected, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestAttachResultCommits(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "evaluations" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "evaluation_results"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result := &models.EvaluationResult{
		CVMatchRate:     0.82,
		CVFeedback:      "Strong backend fundamentals.",
		ProjectScore:    4.2,
		ProjectFeedback: "Solid pipeline.",
		OverallSummary:  "Recommendation: Hire.",
		Recommendation:  "Hire",
	}
	if err := repo.AttachResult(context.Background(), id, result); err != nil {
		t.Fatalf("AttachResult: %v", err)
	}
	if result.EvaluationID != id || result.ID == uuid.Nil {
		t.Fatalf("result not linked: %+v", result)
	}
	expectationsMet(t, mock)
}

func TestAttachResultRollsBackWhenNotProcessing(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "evaluations" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "id","status" FROM "evaluations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id.String(), string(models.StatusFailed)))
	mock.ExpectRollback()

	err := repo.AttachResult(context.Background(), id, &models.EvaluationResult{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestFindByIDNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT \* FROM "evaluations"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	if _, err := repo.FindByID(context.Background(), uuid.New()); !errors.Is(err, ErrEvaluationNotFound) {
		t.Fatalf("expected ErrEvaluationNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestIncrementRetryMissingRow(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "evaluations" SET "retry_count"=retry_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.IncrementRetry(context.Background(), uuid.New()); !errors.Is(err, ErrEvaluationNotFound) {
		t.Fatalf("expected ErrEvaluationNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}
