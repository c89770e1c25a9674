package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCodeOf(t *testing.T) {
	base := NewUploadFailedError("src-1", fmt.Errorf("disk full"))

	testCases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "direct", err: base, want: ErrorUploadFailed},
		{name: "wrapped once", err: fmt.Errorf("run failed: %w", base), want: ErrorUploadFailed},
		{name: "wrapped twice", err: fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", base)), want: ErrorUploadFailed},
		{name: "plain error", err: fmt.Errorf("just a string"), want: ""},
		{name: "nil", err: nil, want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExportErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewFetchFailedError("src-1", cause)

	if !stderrors.Is(err, cause) {
		t.Errorf("cause not reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, cause missing", err.Error())
	}
	if !strings.Contains(err.Error(), string(ErrorFetchFailed)) {
		t.Errorf("Error() = %q, code missing", err.Error())
	}
}

func TestFactoryDetails(t *testing.T) {
	err := NewDecodeFailedError("src-1", 3, fmt.Errorf("bad header"))
	if err.Details["source_document_id"] != "src-1" {
		t.Errorf("source_document_id detail = %v", err.Details["source_document_id"])
	}
	if err.Details["page_index"] != 3 {
		t.Errorf("page_index detail = %v", err.Details["page_index"])
	}

	timeoutErr := NewRunTimeoutError("run-1", 5*time.Minute, nil)
	if timeoutErr.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", timeoutErr.RunID)
	}
}

func TestToMap(t *testing.T) {
	err := NewRelationWriteFailedError("src-1", "searchable_pdf", fmt.Errorf("conflict"))
	m := err.ToMap()

	if m["error_code"] != string(ErrorRelationWriteFailed) {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["relation_key"] != "searchable_pdf" {
		t.Errorf("relation_key = %v", m["relation_key"])
	}
	if m["cause"] != "conflict" {
		t.Errorf("cause = %v", m["cause"])
	}
}
