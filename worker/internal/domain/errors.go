package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidTask      = errors.New("invalid task")
	ErrImageNotFound    = errors.New("image not found")
	ErrSegmentation     = errors.New("segmentation failed")
	ErrTimeout          = errors.New("processing timeout exceeded")
	ErrPoolDraining     = errors.New("worker pool is draining")
	ErrCallbackDelivery = errors.New("callback delivery failed")
	ErrUnavailable      = errors.New("dependency unavailable")
)

type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindNotFound              ErrorKind = "not_found"
	KindComputation           ErrorKind = "computation_error"
	KindTimeout               ErrorKind = "timeout"
	KindCallbackDelivery      ErrorKind = "callback_delivery_error"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
)

// Classify maps an error onto its kind. Anything unrecognised is a
// computation error.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidTask):
		return KindValidation
	case errors.Is(err, ErrImageNotFound):
		return KindNotFound
	case errors.Is(err, ErrCallbackDelivery):
		return KindCallbackDelivery
	case errors.Is(err, ErrUnavailable):
		return KindDependencyUnavailable
	default:
		return KindComputation
	}
}
