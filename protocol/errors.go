package protocol

import "errors"

var (
	// ErrMalformedFrame indicates that a buffer does not have the exact length
	// of the frame it was decoded as. The buffer is dropped without any
	// partial decode.
	ErrMalformedFrame = errors.New("malformed frame: wrong buffer length")

	// ErrInvalidSlot indicates that a parameter slot index is outside [0, ControlSlotCount).
	ErrInvalidSlot = errors.New("invalid parameter slot")

	// ErrInvalidBitOrder indicates an unknown flag bit-order value.
	ErrInvalidBitOrder = errors.New("invalid flag bit order")
)
