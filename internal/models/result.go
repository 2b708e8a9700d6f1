package models

type UploadResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	FileType     string `json:"file_type"`
	SizeBytes    int64  `json:"size_bytes"`
}

type EvaluateRequest struct {
	JobTitle          string `json:"job_title" validate:"required,max=200"`
	CVDocumentID      string `json:"cv_document_id" validate:"required,uuid"`
	ProjectDocumentID string `json:"project_document_id" validate:"required,uuid"`
}

type EvaluateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ResultResponse is the polling payload. Result is set only for completed
// jobs and ErrorMessage only for failed ones.
type ResultResponse struct {
	ID           string          `json:"id"`
	JobTitle     string          `json:"job_title"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	Result       *EvaluationData `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

type EvaluationData struct {
	CVMatchRate     float64 `json:"cv_match_rate"`
	CVFeedback      string  `json:"cv_feedback"`
	ProjectScore    float64 `json:"project_score"`
	ProjectFeedback string  `json:"project_feedback"`
	OverallSummary  string  `json:"overall_summary"`
	Recommendation  string  `json:"recommendation,omitempty"`
}
