// Package errclass provides the typed error taxonomy for the sync engine.
//
// Classification into transient/permanent happens exactly once, at each
// network or client boundary. Core logic (retry policy, sync engine,
// artifact store) branches only on the typed classification, never on
// error text.
package errclass

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Class is the retry classification of an error.
type Class int

const (
	Unknown Class = iota
	Transient
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Kind identifies which boundary produced the error.
type Kind string

const (
	KindConnectivity    Kind = "connectivity"
	KindRemoteAuth      Kind = "remote_auth"
	KindRemoteSchema    Kind = "remote_schema"
	KindLocalIO         Kind = "local_io"
	KindArtifactBackend Kind = "artifact_backend"
)

// Error is a classified error produced at a client boundary.
type Error struct {
	Kind  Kind
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind and class.
func New(kind Kind, class Class, err error) *Error {
	return &Error{Kind: kind, Class: class, Err: err}
}

// Connectivity wraps a transient connectivity failure.
func Connectivity(err error) *Error {
	return New(KindConnectivity, Transient, err)
}

// RemoteAuth wraps a permanent remote authentication failure.
func RemoteAuth(err error) *Error {
	return New(KindRemoteAuth, Permanent, err)
}

// RemoteSchema wraps a permanent remote schema failure. Schema errors are
// fatal: they are logged and surfaced, never silently swallowed.
func RemoteSchema(err error) *Error {
	return New(KindRemoteSchema, Permanent, err)
}

// LocalIO wraps a transient local filesystem failure.
func LocalIO(err error) *Error {
	return New(KindLocalIO, Transient, err)
}

// Backend wraps an artifact backend failure with the given class.
func Backend(class Class, err error) *Error {
	return New(KindArtifactBackend, class, err)
}

// ClassOf returns the classification of err, or Unknown if err was never
// classified at a boundary. Context cancellation is permanent: retrying a
// dead context can never succeed.
func ClassOf(err error) Class {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Unknown
}

// KindOf returns the boundary kind of err, or "" if unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// MySQL server error numbers that map onto the taxonomy.
const (
	mysqlErrAccessDenied    = 1045
	mysqlErrDBAccessDenied  = 1044
	mysqlErrUnknownDB       = 1049
	mysqlErrBadTable        = 1146
	mysqlErrUnknownColumn   = 1054
	mysqlErrWrongValueCount = 1136
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
	mysqlErrTooManyConns    = 1040
	mysqlErrServerShutdown  = 1053
)

// ClassifySQL classifies an error from the remote SQL boundary. It is the
// only place allowed to inspect driver error codes and message text; its
// table is unit-tested directly.
func ClassifySQL(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err // already classified
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err // row absence is a result, not a boundary failure
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied:
			return RemoteAuth(err)
		case mysqlErrBadTable, mysqlErrUnknownColumn, mysqlErrWrongValueCount, mysqlErrUnknownDB:
			return RemoteSchema(err)
		case mysqlErrLockWaitTimeout, mysqlErrLockDeadlock, mysqlErrTooManyConns, mysqlErrServerShutdown:
			return Connectivity(err)
		default:
			return New(KindConnectivity, Unknown, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return Connectivity(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Connectivity(err)
	}

	// Driver errors that reach here without a typed form. Substring checks
	// live only inside this table, mirroring the one-place rule.
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(errStr, marker) {
			return Connectivity(err)
		}
	}

	return New(KindConnectivity, Unknown, err)
}

// ClassifyHTTPStatus maps an HTTP status from an artifact backend client
// into a retry class. 429 and 5xx are transient (rate limits and server
// faults clear on their own); 408 is a server-side timeout.
func ClassifyHTTPStatus(code int) Class {
	switch {
	case code == 0:
		return Transient // transport-level failure, no response
	case code == 408 || code == 429:
		return Transient
	case code >= 500:
		return Transient
	case code == 401 || code == 403:
		return Permanent
	case code == 404 || code == 409 || code == 412:
		return Permanent
	case code >= 400:
		return Permanent
	default:
		return Unknown
	}
}
