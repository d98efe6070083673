package domain

import "errors"

var (
	ErrInvalidTenant            = errors.New("invalid_tenant")
	ErrInvalidEventName         = errors.New("invalid_event_name")
	ErrInvalidAggregate         = errors.New("invalid_aggregate")
	ErrInvalidEventID           = errors.New("invalid_event_id")
	ErrEmptyEventData           = errors.New("empty_event_data")
	ErrDuplicateIdempotencyKey  = errors.New("duplicate_idempotency_key")
	ErrEventNotFound            = errors.New("event_not_found")
	ErrEventAlreadyProcessed    = errors.New("event_already_processed")
	ErrHandlerNotRegistered     = errors.New("no handler registered")
	ErrHandlerAlreadyRegistered = errors.New("handler_already_registered")
	ErrInvalidHandler           = errors.New("invalid_handler")
)

// Permanent marks err as not worth another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string   { return e.err.Error() }
func (e permanentError) Unwrap() error   { return e.err }
func (e permanentError) Permanent() bool { return true }

// IsPermanent reports whether any error in err's chain declares itself permanent.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
