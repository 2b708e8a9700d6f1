package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a pipeline failure. The worker decides retries and user-facing
// messages from the kind alone.
type ErrorKind string

const (
	KindJobNotFound         ErrorKind = "job_not_found"
	KindDocumentMissing     ErrorKind = "document_missing"
	KindStoreUnavailable    ErrorKind = "store_unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindRateLimited         ErrorKind = "rate_limited"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindProviderRejected    ErrorKind = "provider_rejected"
	KindMalformedOutput     ErrorKind = "malformed_output"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindPersistence         ErrorKind = "persistence"
	KindUnknown             ErrorKind = "unknown"
)

var retryableKinds = map[ErrorKind]bool{
	KindStoreUnavailable:    true,
	KindTimeout:             true,
	KindRateLimited:         true,
	KindProviderUnavailable: true,
	KindMalformedOutput:     true,
	KindPersistence:         true,
	KindUnknown:             true,
}

var userMessages = map[ErrorKind]string{
	KindJobNotFound:         "No reference materials found for this job title",
	KindDocumentMissing:     "Reference materials incomplete for this job title",
	KindStoreUnavailable:    "Reference document store is unavailable, please try again later",
	KindTimeout:             "Evaluation timed out, please try again",
	KindRateLimited:         "Provider rate limit reached, try again later",
	KindProviderUnavailable: "AI provider is temporarily unavailable, please try again later",
	KindProviderRejected:    "AI provider rejected the evaluation request",
	KindMalformedOutput:     "AI provider returned an invalid evaluation, please try again",
	KindInvalidInput:        "Candidate document could not be read or is too short",
	KindPersistence:         "Failed to save evaluation result, please try again",
	KindUnknown:             "Evaluation failed due to an unexpected error",
}

// EvaluationError is a classified failure raised inside a gateway or stage.
// RetryAfter, when set, is the earliest point a retry can help.
type EvaluationError struct {
	Kind         ErrorKind
	Stage        StageName
	DocumentKind ReferenceKind
	RetryAfter   time.Duration
	Err          error
}

func (e *EvaluationError) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.DocumentKind != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.DocumentKind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same task may succeed.
func (e *EvaluationError) Retryable() bool {
	return retryableKinds[e.Kind]
}

func newError(kind ErrorKind, err error) *EvaluationError {
	return &EvaluationError{Kind: kind, Err: err}
}

func newErrorf(kind ErrorKind, format string, args ...any) *EvaluationError {
	return &EvaluationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// withStage attaches the stage name to err, classifying unknown errors on the way.
func withStage(stage StageName, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		tagged := *evalErr
		if tagged.Stage == "" {
			tagged.Stage = stage
		}
		return &tagged
	}

	kind := KindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &EvaluationError{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the classification of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// RetryAfter returns the retry hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.RetryAfter
	}
	return 0
}

func IsRetryable(err error) bool {
	return err != nil && retryableKinds[KindOf(err)]
}

// UserMessage maps err to the sentence stored on a failed evaluation.
func UserMessage(err error) string {
	kind := KindOf(err)

	var evalErr *EvaluationError
	if kind == KindDocumentMissing && errors.As(err, &evalErr) && evalErr.DocumentKind != "" {
		return fmt.Sprintf("%s: %s missing", userMessages[kind], evalErr.DocumentKind.Label())
	}

	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}
