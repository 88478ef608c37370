package models

import "errors"

var (
	ErrDimensionMismatch = errors.New("vector dimension does not match collection")
	ErrModelMismatch     = errors.New("embedding model does not match collection")
	ErrEmbedding         = errors.New("embedding failed")
	ErrRetrieval         = errors.New("retrieval failed")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrEmptyInput        = errors.New("empty input")
	ErrLocked            = errors.New("ingestion already running")
	ErrNotConfigured     = errors.New("not configured")
)
