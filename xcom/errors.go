package xcom

import (
	"errors"
	"fmt"

	"xcomlink/scom"
)

// ErrTimeout indicates that no matching response arrived within the
// request timeout. Requests failing with ErrTimeout are retried.
var ErrTimeout = errors.New("xcom: response timeout")

// ErrUnpack indicates a response payload that could not be decoded into the
// datapoint's format, usually a glitched frame.
var ErrUnpack = errors.New("xcom: unpack failed")

// ResponseError is an error frame returned by a device or the gateway.
type ResponseError struct {
	Code uint16
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("xcom: device returned %s", scom.ErrorName(e.Code))
}

// ParamError reports a request rejected locally before any wire traffic.
type ParamError struct {
	Reason string
}

func (e *ParamError) Error() string {
	return "xcom: " + e.Reason
}
