// Package status carries the outcome codes exchanged between RPC peers and
// reported by transport operations.
package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	errspkg "github.com/drblury/uplink/internal/runtime/errors"
)

// Code enumerates communication outcomes. Values follow the uProtocol UCode
// numbering so they can be exchanged with other uProtocol stacks.
type Code int32

const (
	OK                 Code = 0
	Cancelled          Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Cancelled:          "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "CODE(" + strconv.Itoa(int(c)) + ")"
}

// ParseCode accepts either the numeric value or the upper-case name.
func ParseCode(s string) (Code, error) {
	if n, err := strconv.Atoi(s); err == nil {
		c := Code(n)
		if _, ok := codeNames[c]; !ok {
			return Unknown, fmt.Errorf("unknown status code %d", n)
		}
		return c, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(s))
	for c, name := range codeNames {
		if name == upper {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("unknown status code %q", s)
}

// Status is an error carrying a Code and a human readable message.
type Status struct {
	Code    Code
	Message string
	cause   error
}

// New builds a Status.
func New(code Code, msg string) *Status {
	return &Status{Code: code, Message: msg}
}

// Newf builds a Status using a format string.
func Newf(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Status that unwraps to err.
func Wrap(code Code, err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{Code: code, Message: err.Error(), cause: err}
}

func (s *Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

func (s *Status) Unwrap() error {
	return s.cause
}

// Is lets errors.Is match the sentinel errors that correspond to a code.
func (s *Status) Is(target error) bool {
	switch target {
	case errspkg.ErrTimeout:
		return s.Code == DeadlineExceeded
	case errspkg.ErrCancelled:
		return s.Code == Cancelled
	case errspkg.ErrTransportUnavailable:
		return s.Code == Unavailable
	}
	return false
}

// CodeOf extracts the Code from err. nil maps to OK and errors without a
// Status map to Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var st *Status
	if errors.As(err, &st) {
		return st.Code
	}
	switch {
	case errors.Is(err, errspkg.ErrTimeout):
		return DeadlineExceeded
	case errors.Is(err, errspkg.ErrCancelled):
		return Cancelled
	case errors.Is(err, errspkg.ErrTransportUnavailable):
		return Unavailable
	case errors.Is(err, errspkg.ErrFormatMismatch), errors.Is(err, errspkg.ErrTruncated):
		return InvalidArgument
	}
	return Unknown
}
