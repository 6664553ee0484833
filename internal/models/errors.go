package models

import "errors"

var (
	// ErrDocumentNotFound is returned when the source document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrModelUnavailable is returned when an embedding or generation backend cannot be reached.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrGenerationFailed is returned when the generation backend fails to produce an answer.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)
