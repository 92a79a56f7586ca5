package common

import "errors"

var (
	// ErrInvalidLocation is returned for coordinates outside [-90,90] x [-180,180].
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidQuery is returned for malformed lookups or unsupported ranges
	// (e.g. a forecast longer than the upstream provider allows).
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUpstreamUnavailable is returned when an external provider cannot be
	// reached or answers with an error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
