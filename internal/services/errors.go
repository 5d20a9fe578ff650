package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrScan          = errors.New("scan error")
	ErrValidation    = errors.New("validation error")
	ErrModelLoad     = errors.New("model load error")
	ErrInference     = errors.New("inference error")
	ErrExport        = errors.New("export error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// Pipeline stage names used for error attribution and log fields.
const (
	StageScan      = "scan"
	StageValidate  = "validate"
	StageLoad      = "load"
	StageInference = "inference"
	StageExport    = "export"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// StageOf maps a tagged error back to the pipeline stage that produced it.
// Errors without a recognized marker return an empty string; callers that
// know their stage should record it directly.
func StageOf(err error) string {
	switch {
	case errors.Is(err, ErrScan):
		return StageScan
	case errors.Is(err, ErrValidation):
		return StageValidate
	case errors.Is(err, ErrModelLoad):
		return StageLoad
	case errors.Is(err, ErrInference):
		return StageInference
	case errors.Is(err, ErrExport):
		return StageExport
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
