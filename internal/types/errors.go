package types

import "errors"

var (
	// ErrUnsupportedEnvironment means the capture capability is absent altogether.
	ErrUnsupportedEnvironment = errors.New("capture is not supported in this environment")
	// ErrDeviceUnavailable means the capability exists but no device could be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrNotReady means no frame has arrived on the stream yet.
	ErrNotReady = errors.New("stream has no frame yet")
	// ErrMalformedResult means a successful response lacks fields the renderer needs.
	ErrMalformedResult = errors.New("malformed analysis result")
	// ErrIllegalTransition is returned for operations the current session state does not allow.
	ErrIllegalTransition = errors.New("illegal session transition")
)
