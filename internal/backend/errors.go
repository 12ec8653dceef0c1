package backend

import "errors"

var (
	// ErrInvalidArgument reports a malformed caller input, such as an
	// unknown filter operator or a vector query without an embedding
	// function.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVectorExtension reports that the server is missing the vector
	// extension and the connecting role may not install it.
	ErrVectorExtension = errors.New("vector extension unavailable")

	// ErrBackendUnavailable reports that the database could not be
	// reached. Retrying later may succeed.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
