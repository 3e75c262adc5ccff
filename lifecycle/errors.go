package lifecycle

import "errors"

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrUserNotFound       = errors.New("user not found")

	// ErrAlreadyProcessed is returned for any transition on a record that is no longer pending.
	ErrAlreadyProcessed        = errors.New("request already processed")
	ErrPendingWithdrawalExists = errors.New("a withdrawal request is already pending")
	ErrBelowMinimum            = errors.New("amount is below the minimum withdrawal")
	ErrBalanceChanged          = errors.New("balance changed since the request was started")
	ErrNoInviteLinks           = errors.New("invite link pool is empty")

	ErrInvalidReference   = errors.New("transaction reference is empty")
	ErrInvalidDestination = errors.New("destination does not match the withdrawal method")
	ErrUnknownMethod      = errors.New("unknown withdrawal method")
	ErrInvalidSetting     = errors.New("invalid setting")
)
