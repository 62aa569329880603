package similarity

import "errors"

var (
	// ErrProviderUnavailable wraps every failure a provider reports. The skill
	// matcher answers it with lexical fallback, never with a scoring error.
	ErrProviderUnavailable = errors.New("similarity provider unavailable")

	// ErrBadResponse is returned when the model's answer carries no usable score.
	ErrBadResponse = errors.New("similarity response has no score")
)
