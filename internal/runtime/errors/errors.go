package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrTransportUnavailable = sterrors.New("uplink: transport unavailable")
	ErrSendFailure          = sterrors.New("uplink: send failed")
	ErrTimeout              = sterrors.New("uplink: request timed out")
	ErrCancelled            = sterrors.New("uplink: request cancelled")
	ErrFormatMismatch       = sterrors.New("uplink: payload format mismatch")
	ErrTruncated            = sterrors.New("uplink: payload truncated")

	ErrNodeRequired     = sterrors.New("uplink: node is required")
	ErrHandlerRequired  = sterrors.New("uplink: handler function is required")
	ErrEncoderRequired  = sterrors.New("uplink: payload encoder is required")
	ErrTopicRequired    = sterrors.New("uplink: topic is required")
	ErrConfigRequired   = sterrors.New("uplink: configuration is required")
	ErrLoggerRequired   = sterrors.New("uplink: logger is required")
	ErrInvalidTTL       = sterrors.New("uplink: time-to-live must be positive")
	ErrDuplicateRequest = sterrors.New("uplink: request id already pending")
	ErrAlreadySent      = sterrors.New("uplink: request already sent")
	ErrNotSent          = sterrors.New("uplink: request not sent")
	ErrSourceRequired   = sterrors.New("uplink: node source identity is required")
	ErrNodeClosed       = sterrors.New("uplink: node is closed")
)

// ConfigValidationError marks an error produced while validating Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("uplink: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
