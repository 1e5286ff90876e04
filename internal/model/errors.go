package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Operations wrap one of these sentinels with
// fmt.Errorf("%w: ...") so callers can classify failures via errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrPermission          = errors.New("permission denied")
	ErrAlreadyJudged       = errors.New("market already judged")
	ErrAlreadySettled      = errors.New("market already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSettlement          = errors.New("settlement failed")
)

// SettlementError reports the payout target whose custody transfer aborted
// a settlement attempt. The whole settlement is retryable.
type SettlementError struct {
	Market string
	Target string
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement of market %s failed at target %s: %v", e.Market, e.Target, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSettlement) match any *SettlementError.
func (e *SettlementError) Is(target error) bool { return target == ErrSettlement }

// Kind maps an error to the stable code returned to the dispatcher.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSettlement):
		return "settlement"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrAlreadyJudged):
		return "already_judged"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "internal"
	}
}
