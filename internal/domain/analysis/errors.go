package analysis

import (
	"net/http"
	"strings"

	"garden-doctor-go/internal/platform/errors"
)

// LocalProgramHint is shown with local program failures.
const LocalProgramHint = "Python command failed. Please ensure Python is installed and added to PATH, or set PYTHON_PATH in your .env file."

// ErrorRecord is the uniform failure result. It never carries diagnosis fields.
type ErrorRecord struct {
	Kind    errors.Kind `json:"kind"`
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
	Message string      `json:"message,omitempty"`
	Status  int         `json:"-"`
}

// ToErrorRecord 将任意错误转换为 ErrorRecord，nil 返回 nil
func ToErrorRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	var typed *errors.Error
	if !errors.As(err, &typed) || typed == nil {
		return &ErrorRecord{
			Kind:    errors.KindUnknown,
			Error:   "Analysis failed",
			Details: err.Error(),
			Status:  http.StatusInternalServerError,
		}
	}

	record := &ErrorRecord{
		Kind:    typed.Kind,
		Error:   typed.Message,
		Details: typed.Details,
		Status:  StatusFor(typed.Kind),
	}
	if record.Details == "" && typed.Cause != nil {
		record.Details = typed.Cause.Error()
	}

	switch {
	case typed.Kind == errors.KindParse:
		if typed.Cause != nil {
			record.Message = typed.Cause.Error()
		}
	case typed.Kind == errors.KindExecution,
		typed.Kind == errors.KindConfig && strings.HasPrefix(typed.Op, "localproc."):
		record.Message = LocalProgramHint
	}
	return record
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind errors.Kind) int {
	if kind == errors.KindBadRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
