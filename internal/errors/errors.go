package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the searchable-PDF worker
 *
 * Every failure in the export pipeline carries one of the codes below so
 * that callers (queue consumer, run ledger) can branch on the kind of
 * failure without parsing messages.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors (fatal, abort the run before any relation mutation)
	ErrorFetchFailed  ErrorCode = "FETCH_FAILED"
	ErrorDecodeFailed ErrorCode = "DECODE_FAILED"

	// Relation protocol errors
	ErrorUploadFailed        ErrorCode = "UPLOAD_FAILED"
	ErrorRelationWriteFailed ErrorCode = "RELATION_WRITE_FAILED"
	ErrorDeleteFailed        ErrorCode = "DELETE_FAILED" // non-fatal, run still succeeds

	// Configuration / infrastructure
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrorRunTimeout    ErrorCode = "RUN_TIMEOUT"
	ErrorLedgerFailed  ErrorCode = "LEDGER_FAILED"
)

// ExportError represents a structured export-run error
type ExportError struct {
	Code      ErrorCode
	Message   string
	RunID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ExportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the error code carried by err, or "" when err is not an
// ExportError anywhere in its chain.
func CodeOf(err error) ErrorCode {
	var ee *ExportError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// Factory functions for common errors

func NewFetchFailedError(sourceDocumentID string, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorFetchFailed,
		Message:   fmt.Sprintf("Failed to fetch pages for source document %s", sourceDocumentID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source_document_id": sourceDocumentID,
		},
		Cause: cause,
	}
}

func NewDecodeFailedError(sourceDocumentID string, pageIndex int, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorDecodeFailed,
		Message:   fmt.Sprintf("Failed to decode image for page %d", pageIndex),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source_document_id": sourceDocumentID,
			"page_index":         pageIndex,
		},
		Cause: cause,
	}
}

func NewUploadFailedError(sourceDocumentID string, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorUploadFailed,
		Message:   fmt.Sprintf("Failed to upload generated document for source %s", sourceDocumentID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source_document_id": sourceDocumentID,
		},
		Cause: cause,
	}
}

func NewRelationWriteFailedError(sourceDocumentID, relationKey string, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorRelationWriteFailed,
		Message:   fmt.Sprintf("Failed to write relation %q for source %s", relationKey, sourceDocumentID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source_document_id": sourceDocumentID,
			"relation_key":       relationKey,
		},
		Cause: cause,
	}
}

func NewDeleteFailedError(documentID string, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorDeleteFailed,
		Message:   fmt.Sprintf("Failed to delete stale document %s", documentID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"document_id": documentID,
		},
		Cause: cause,
	}
}

func NewRunTimeoutError(runID string, duration time.Duration, cause error) *ExportError {
	return &ExportError{
		Code:      ErrorRunTimeout,
		Message:   fmt.Sprintf("Export run timed out after %v", duration),
		RunID:     runID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewConfigInvalidError(message string) *ExportError {
	return &ExportError{
		Code:      ErrorConfigInvalid,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// ToMap converts error to map for ledger storage
func (e *ExportError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
