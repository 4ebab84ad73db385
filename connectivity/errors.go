package connectivity

import "fmt"

// ErrServiceNotFound is returned when Call targets a service with no
// registered handler.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return "connectivity: handler panicked"
}

// ErrReinstallFailed is returned when installing a missing service fails.
type ErrReinstallFailed struct {
	Service string
	Cause   error
}

func (e *ErrReinstallFailed) Error() string {
	return fmt.Sprintf("connectivity: reinstall %s: %v", e.Service, e.Cause)
}

func (e *ErrReinstallFailed) Unwrap() error { return e.Cause }
