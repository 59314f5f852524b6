package service

import "errors"

// Closed set of error kinds surfaced by the service layer. Handlers map these
// to status codes at the boundary; nothing else crosses it untyped.
var (
	// ErrUnauthenticated covers both a missing and an invalid/expired
	// credential. The two cases stay distinguishable in logs only.
	ErrUnauthenticated = errors.New("not authorized")

	// ErrForbidden means the credential is valid but the role is not
	// sufficient, or the session subject no longer resolves to an account.
	ErrForbidden = errors.New("forbidden")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrOrderNotFound      = errors.New("order not found")

	// ErrPreconditionFailed is returned when a transition is attempted out
	// of order, e.g. delivering an unpaid order.
	ErrPreconditionFailed = errors.New("precondition not met")
)
