package models

import "errors"

// Error taxonomy shared by every core component. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	ErrCollectionFailed = errors.New("metrics collection failed")
	ErrAnalysisFailed   = errors.New("analysis failed")
	ErrPolicyViolation  = errors.New("command violates execution policy")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrBusy             = errors.New("busy")
	ErrTimeoutExceeded  = errors.New("timeout exceeded")
	ErrTransport        = errors.New("transport error")
)
