package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Error wraps database failures with the categorisation repositories.RepositoryError expects.
type Error struct {
	Op          string
	Msg         string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return e.Op + ": " + e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func notFound(op, msg string) error { return &Error{Op: op, Msg: msg, notFound: true} }
func conflict(op, msg string) error { return &Error{Op: op, Msg: msg, conflict: true} }

// wrapError classifies err. Context errors and already classified errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified interface{ IsUnavailable() bool }
	if errors.As(err, &classified) {
		return err
	}

	out := &Error{Op: op, Err: err}
	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		out.notFound = true
	case errors.As(err, &pqErr):
		switch {
		case pqErr.Code == codeUniqueViolation:
			out.conflict = true
			out.Msg = "duplicate " + pqErr.Constraint
		case pqErr.Code == codeSerializationFailure, pqErr.Code == codeDeadlockDetected:
			out.conflict = true
		case isUnavailableClass(string(pqErr.Code)):
			out.unavailable = true
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		out.unavailable = true
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			out.unavailable = true
		}
	}
	return out
}

// Connection exceptions, insufficient resources and operator intervention.
func isUnavailableClass(code string) bool {
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57P")
}
