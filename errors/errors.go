package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Broadcast relay
	ErrBackpressure    = fmt.Errorf("outbox full, message dropped")
	ErrLineTooLong     = fmt.Errorf("line exceeds maximum length")
	ErrHandshakeClosed = fmt.Errorf("stream closed before username was received")
	ErrEmptyUsername   = fmt.Errorf("username is empty")
	ErrInvalidUsername = fmt.Errorf("username must not contain ':'")
	ErrMalformedLine   = fmt.Errorf("line is not valid UTF-8")
	ErrOutboxClosed    = fmt.Errorf("outbox closed")

	// Tunnel relay
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")

	// Configuration
	ErrInvalidMode        = fmt.Errorf("invalid relay mode")
	ErrInvalidReplacement = fmt.Errorf("character replacement must be a single character")
)
