package repositories

import "errors"

var (
	ErrEvaluationNotFound = errors.New("evaluation not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
