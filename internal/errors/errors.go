// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrClaimConflict means another poller run claimed the job first.
var ErrClaimConflict = errors.New("deferred job already claimed")

// ValidationError is returned for missing or malformed input, before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError covers unknown tenants, jobs and contact groups.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func NewTenantNotFound(id string) error {
	return NewNotFound("tenant", id)
}

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func NewConflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// TransportError is a per-recipient send failure. It never aborts a campaign.
type TransportError struct {
	Recipient string
	Reason    string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Recipient == "" {
		return "send failed: " + e.Reason
	}
	return fmt.Sprintf("send to %s failed: %s", e.Recipient, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

func NewTransport(recipient, reason string, err error) error {
	return &TransportError{Recipient: recipient, Reason: reason, Err: err}
}

// PersistenceError wraps a failed record or job write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
