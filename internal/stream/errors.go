package stream

import "errors"

var (
	// ErrParameter reports a construction parameter outside its valid range.
	ErrParameter = errors.New("stream: parameter out of range")

	// ErrSequence reports records that cannot be ordered or aligned, such as
	// two inputs of a pair whose timestamps disagree at the same index.
	ErrSequence = errors.New("stream: sequence mismatch")

	// ErrInvalidOperation reports a call that the node's current state or
	// properties do not allow.
	ErrInvalidOperation = errors.New("stream: invalid operation")

	// ErrOverflow reports a provider that kept resending the same record.
	// The provider is terminated when it is returned.
	ErrOverflow = errors.New("stream: repeated update overflow")
)
