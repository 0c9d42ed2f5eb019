package service

import (
	"fmt"
	"strings"

	"github.com/lightwatch/lightwatch/ingest/internal/validator"
)

// ValidationError carries every violated schema constraint.
type ValidationError struct {
	Details []validator.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = d.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// UpstreamError reports a failed write to the store, the broker or both.
type UpstreamError struct {
	Sink string
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s write failed: %v", e.Sink, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
