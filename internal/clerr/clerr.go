// Package clerr defines the error kinds surfaced by the annotation pipeline.
package clerr

import (
	"errors"
	"fmt"
)

// Kind names an error category reported to task status channels.
type Kind string

const (
	KindInternalisation Kind = "internalisation"
	KindTemplate        Kind = "template"
	KindLLM             Kind = "llm"
	KindMWE             Kind = "mwe"
	KindReadingHistory  Kind = "reading_history"
	KindInternal        Kind = "internal"
	KindRepository      Kind = "repository"
	KindUnknown         Kind = "unknown"
)

// InternalisationError reports inline markup that cannot be parsed.
type InternalisationError struct {
	Layer     string
	Substring string
	Offset    int
	Message   string
}

func (e *InternalisationError) Error() string {
	return fmt.Sprintf("cannot internalise %s text at offset %d (%q): %s", e.Layer, e.Offset, e.Substring, e.Message)
}

// TemplateError reports a missing or malformed prompt template or example list.
type TemplateError struct {
	Language string
	Phase    string
	Mode     string
	Message  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("prompt template %s/%s/%s: %s", e.Language, e.Phase, e.Mode, e.Message)
}

// LLMError reports a transport failure or repeated malformed responses.
type LLMError struct {
	Phase    string
	Attempts int
	Err      error
}

func (e *LLMError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("llm %s failed after %d attempts: %v", e.Phase, e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm %s failed: %v", e.Phase, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// MWEError reports MWE words missing from a segment or an inconsistent
// annotation across MWE members.
type MWEError struct {
	MWE     []string
	Segment string
	Message string
}

func (e *MWEError) Error() string {
	return fmt.Sprintf("mwe %q in %q: %s", e.MWE, e.Segment, e.Message)
}

// ReadingHistoryError reports inputs that cannot be combined.
type ReadingHistoryError struct {
	Message string
}

func (e *ReadingHistoryError) Error() string {
	return "reading history: " + e.Message
}

// InternalError reports a violated structural invariant.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

// Internalf returns an InternalError with a formatted message.
func Internalf(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// RepositoryError reports an audio or image repository failure.
type RepositoryError struct {
	Repository string
	Op         string
	Err        error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s repository %s: %v", e.Repository, e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// KindOf classifies err.
func KindOf(err error) Kind {
	var (
		ie  *InternalisationError
		te  *TemplateError
		le  *LLMError
		me  *MWEError
		he  *ReadingHistoryError
		ine *InternalError
		re  *RepositoryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ie):
		return KindInternalisation
	case errors.As(err, &te):
		return KindTemplate
	case errors.As(err, &me):
		return KindMWE
	case errors.As(err, &le):
		return KindLLM
	case errors.As(err, &he):
		return KindReadingHistory
	case errors.As(err, &ine):
		return KindInternal
	case errors.As(err, &re):
		return KindRepository
	}
	return KindUnknown
}
