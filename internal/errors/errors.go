package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrSecurityBlocked - input guard tripped (400, never retried)
	ErrSecurityBlocked = errors.New("security blocked")

	// ErrValidation - schema or JSON shape violation from user input, tool arguments or model output (422)
	ErrValidation = errors.New("validation error")

	// ErrInvalidHistory - conversation history is not a JSON list of role/content messages (422)
	ErrInvalidHistory = errors.New("invalid history format")

	// ErrImageProcessing - uploaded image could not be read or encoded (422)
	ErrImageProcessing = errors.New("image processing error")

	// ErrToolError - tool execution or provider call failed (502)
	ErrToolError = errors.New("tool error")

	// ErrToolTimeout - tool exceeded its deadline (504)
	ErrToolTimeout = errors.New("tool timeout")

	// ErrEmptyModelOutput - model produced no usable output; retried once by the orchestrator
	ErrEmptyModelOutput = errors.New("empty model output")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error (network, rate limit)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error (generic message, 500)
	ErrInternal = errors.New("internal error")
)
