package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrConfiguration marks a remote rejection of a configuration key, value
// or player name. It crosses the wire as error code "configuration".
var ErrConfiguration = errors.New("configuration error")

// Outcome is the result kind of a remote call.
type Outcome int

const (
	// OutcomeOK means the call returned normally.
	OutcomeOK Outcome = iota
	// OutcomeTimeout means no answer arrived before the deadline.
	OutcomeTimeout
	// OutcomeUnreachable means the endpoint could not be reached or the
	// reply could not be read.
	OutcomeUnreachable
	// OutcomeRemote means the endpoint answered with an application error.
	OutcomeRemote
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeRemote:
		return "remote"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

const codeConfiguration = "configuration"

// CallError is the error of a failed remote call.
type CallError struct {
	Err     error
	Target  string
	Code    string
	Outcome Outcome
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s: %s: %v", e.Target, e.Outcome, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrConfiguration on remote configuration errors.
func (e *CallError) Is(target error) bool {
	return target == ErrConfiguration && e.Outcome == OutcomeRemote && e.Code == codeConfiguration
}

// OutcomeOf classifies err. Errors that are not a *CallError count as
// remote application errors.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Outcome
	}
	return OutcomeRemote
}

// IsCommunication reports whether err means the peer could not be talked
// to (timeout or unreachable), as opposed to the peer refusing a request.
func IsCommunication(err error) bool {
	o := OutcomeOf(err)
	return o == OutcomeTimeout || o == OutcomeUnreachable
}

// classify turns a transport error into a *CallError.
func classify(ctx context.Context, target string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return &CallError{Target: target, Outcome: OutcomeTimeout, Err: err}
	case errors.As(err, &ne) && ne.Timeout():
		return &CallError{Target: target, Outcome: OutcomeTimeout, Err: err}
	}
	return &CallError{Target: target, Outcome: OutcomeUnreachable, Err: err}
}

// remoteError converts a handler error into the wire error body.
func remoteError(err error) errorBody {
	eb := errorBody{Error: err.Error()}
	if errors.Is(err, ErrConfiguration) {
		eb.Code = codeConfiguration
	}
	return eb
}
