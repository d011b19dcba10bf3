package datapoint

import "errors"

// Domain errors for the Data Point Store.
var (
	// ErrUnknownPoint is returned when a point name is not configured.
	ErrUnknownPoint = errors.New("datapoint: unknown point")

	// ErrUnknownPort is returned when a point references a port that was not supplied.
	ErrUnknownPort = errors.New("datapoint: unknown port")

	// ErrDuplicatePoint is returned when two points share a name.
	ErrDuplicatePoint = errors.New("datapoint: duplicate point name")

	// ErrInvalidPoint is returned when a point definition is inconsistent.
	ErrInvalidPoint = errors.New("datapoint: invalid point definition")

	// ErrReadOnly is returned when commanding an input or a computed point.
	ErrReadOnly = errors.New("datapoint: point is read-only")

	// ErrOutOfRange is returned when a commanded value violates the point's limits.
	ErrOutOfRange = errors.New("datapoint: value out of range")

	// ErrStaleInput is recorded on a computed point when one of its inputs is stale.
	ErrStaleInput = errors.New("datapoint: expression input is stale")

	// ErrExpression is recorded when a computed point fails to evaluate.
	ErrExpression = errors.New("datapoint: expression evaluation failed")

	// ErrStoreClosed is returned by Command after Close.
	ErrStoreClosed = errors.New("datapoint: store closed")
)
