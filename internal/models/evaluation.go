package models

import (
	"time"

	"github.com/google/uuid"
)

type EvaluationStatus string

const (
	StatusQueued     EvaluationStatus = "queued"
	StatusProcessing EvaluationStatus = "processing"
	StatusCompleted  EvaluationStatus = "completed"
	StatusFailed     EvaluationStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s EvaluationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Evaluation struct {
	ID                uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	JobTitle          string           `gorm:"type:text;not null" json:"job_title"`
	CVDocumentID      uuid.UUID        `gorm:"type:uuid;not null" json:"cv_document_id"`
	ProjectDocumentID uuid.UUID        `gorm:"type:uuid;not null" json:"project_document_id"`
	Status            EvaluationStatus `gorm:"type:text;not null;default:'queued';index" json:"status"`
	ErrorMessage      *string          `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount        int              `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	// Relations
	Result          *EvaluationResult `gorm:"foreignKey:EvaluationID" json:"result,omitempty"`
	CVDocument      Document          `gorm:"foreignKey:CVDocumentID" json:"-"`
	ProjectDocument Document          `gorm:"foreignKey:ProjectDocumentID" json:"-"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

// EvaluationResult is written once, in the same transaction that completes its evaluation.
type EvaluationResult struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	EvaluationID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"evaluation_id"`
	CVMatchRate     float64   `gorm:"type:decimal(3,2);not null" json:"cv_match_rate"`
	CVFeedback      string    `gorm:"type:text;not null" json:"cv_feedback"`
	ProjectScore    float64   `gorm:"type:decimal(3,2);not null" json:"project_score"`
	ProjectFeedback string    `gorm:"type:text;not null" json:"project_feedback"`
	OverallSummary  string    `gorm:"type:text;not null" json:"overall_summary"`
	Recommendation  string    `gorm:"type:text" json:"recommendation"`
	ParsedCV        string    `gorm:"type:jsonb" json:"-"`
	ParsedProject   string    `gorm:"type:jsonb" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

func (EvaluationResult) TableName() string {
	return "evaluation_results"
}
