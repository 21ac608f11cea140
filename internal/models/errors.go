package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRate          = errors.New("hourly rate must be greater than zero")
	ErrNegativeDuration     = errors.New("negative duration")
	ErrNotOwner             = errors.New("caller does not own this resource")
	ErrSessionNotActive     = errors.New("session is not active")
	ErrSpotUnavailable      = errors.New("spot is not available")
	ErrReservationExpired   = errors.New("reservation has expired")
	ErrSessionNotPayable    = errors.New("session is not payable")
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

// IsStateConflict reports whether err is a legitimate concurrent-use
// conflict that the caller may resolve by re-fetching.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrSessionNotActive) ||
		errors.Is(err, ErrSpotUnavailable) ||
		errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrSessionNotPayable) ||
		errors.Is(err, ErrPaymentNotRefundable)
}
