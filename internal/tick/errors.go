package tick

import (
	"errors"

	"github.com/atmx/flow-engine/internal/pit"
)

// ErrorPrefix starts every error frame. Problem and result frames are JSON
// objects, so a client can tell them apart by the first bytes.
const ErrorPrefix = "Error: "

// Protocol errors. They are per-message and never close the connection.
// Messages are sent to clients verbatim.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInputShape        = errors.New("allocation must contain exactly one entry per consumer")
	ErrUnknownConsumer   = errors.New("unknown consumer")
	ErrNegativeFlow      = errors.New("flow rates must be non-negative")
	ErrDuplicateResponse = errors.New("got multiple responses")
	ErrTimeout           = errors.New("did not get a response in time")
	ErrStaleResponse     = errors.New("allocation is for a previous tick")
)

// Kind names an error for metrics labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInputShape):
		return "input_shape"
	case errors.Is(err, ErrUnknownConsumer):
		return "unknown_consumer"
	case errors.Is(err, ErrNegativeFlow):
		return "negative_flow"
	case errors.Is(err, ErrDuplicateResponse):
		return "duplicate_response"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStaleResponse):
		return "stale_response"
	case errors.Is(err, pit.ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// ErrorFrame renders err as a wire error frame.
func ErrorFrame(err error) []byte {
	return []byte(ErrorPrefix + err.Error())
}

// IsErrorFrame reports whether frame is an error frame.
func IsErrorFrame(frame []byte) bool {
	return len(frame) >= len(ErrorPrefix) && string(frame[:len(ErrorPrefix)]) == ErrorPrefix
}
