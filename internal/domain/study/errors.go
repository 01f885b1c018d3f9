package study

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when an accession number is ingested twice.
	// The original study is left untouched.
	ErrConflict = errors.New("study already exists")

	// ErrNotFound is returned when an operation references an unknown
	// accession number or an absent active classification.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when a classification kind or value is
	// outside its enumerated set.
	ErrValidation = errors.New("validation failed")
)

// ParseErrorKind distinguishes why a message could not be turned into a
// study. Malformed messages and structurally valid but non-actionable ones
// are reported differently to the sender.
type ParseErrorKind string

const (
	ParseMalformed        ParseErrorKind = "malformed"
	ParseMissingAccession ParseErrorKind = "missing_accession"
	ParseMissingResult    ParseErrorKind = "missing_result"
	ParseBadResult        ParseErrorKind = "bad_result"
)

// ParseError reports a message-level extraction failure. It never
// terminates a connection; the transport layer converts it into a negative
// acknowledgment or an HTTP 4xx.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Kind, e.Msg)
}

func newParseError(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
