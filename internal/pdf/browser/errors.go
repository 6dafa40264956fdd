package browser

import "errors"

// Pool errors - returned during page acquisition and browser management
var (
	ErrCapacityExceeded = errors.New("page pool capacity exceeded")
	ErrBrowserLaunch    = errors.New("browser launch failed")
	ErrPageCreate       = errors.New("page creation failed")
)

// Pipeline errors - returned during PDF generation
var (
	ErrGenerationTimeout = errors.New("generation phase timeout exceeded")
	ErrContentLoad       = errors.New("content load failed")
	ErrReadinessPoll     = errors.New("pagination readiness poll failed")
	ErrCapture           = errors.New("pdf capture failed")
)
