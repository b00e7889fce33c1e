package nearby

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveConnection is returned when sending without a Connected
	// endpoint. It signals a caller logic error and is always reported.
	ErrNoActiveConnection = errors.New("nearby: no active connection")

	// ErrBusy is the reason given when a proposal is rejected, or a found
	// endpoint is not requested, because a connection is already active.
	ErrBusy = errors.New("nearby: a connection is already active")
)

// StartError reports that advertising or discovery could not begin.
type StartError struct {
	Op  string // "advertising" or "discovery"
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Op, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// RequestError reports that a connection request could not be sent.
type RequestError struct {
	EndpointID string
	Attempts   int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("failed to request connection to %s after %d attempt(s): %v", e.EndpointID, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
