package analysis

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded indicates the model provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("model quota exceeded")

// AnalysisFailedError reports a run that could not produce any result.
type AnalysisFailedError struct {
	Message string
}

func (e *AnalysisFailedError) Error() string {
	return "analysis failed: " + e.Message
}

// FileParsingError reports content the scanner could not read as Move source.
// It aborts the whole static track; it is never downgraded to a per-file skip.
type FileParsingError struct {
	FilePath string
	Message  string
}

func (e *FileParsingError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.FilePath, e.Message)
}

// ProviderError wraps a failure from a generative provider, including
// responses that could not be decoded.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return "provider error: " + e.Message
}
