// Package audiocoreerr centralizes the error categories and the component
// tag the audiocore subpackages use when building errors with the shared
// internal/errors builder, so every package reports under the same
// component name and a consistent set of categories.
package audiocoreerr

import "github.com/tphakala/audiocore/internal/errors"

// Component is the error-builder Component() value used across audiocore.
const Component = "audiocore"

// Categories specific to the memory pool / queue / resampler contract
// that the shared errors package doesn't already carry.
const (
	CategoryPoolFull    errors.ErrorCategory = "audiocore-pool-full"
	CategoryTooLarge    errors.ErrorCategory = "audiocore-too-large"
	CategoryRevoked     errors.ErrorCategory = "audiocore-revoked"
	CategoryWouldBlock  errors.ErrorCategory = "audiocore-would-block"
	CategoryReadOnly    errors.ErrorCategory = "audiocore-read-only-violation"
	CategoryUnsupported errors.ErrorCategory = "audiocore-unsupported"
)
