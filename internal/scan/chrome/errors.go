package chrome

import "errors"

// Scan errors - returned while driving a page load
var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrNavTimeout       = errors.New("navigation timeout exceeded")
	ErrNavigateFailed   = errors.New("navigation failed")
)

// Pool errors - returned during browser process management
var (
	ErrLaunchFailed = errors.New("browser launch failed")
)
