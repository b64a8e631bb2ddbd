// Package escrowerr defines the error classes shared by every escrow component.
//
// Each class aborts the invocation that produced it; the host discards the
// invocation's batch so no partial state is ever persisted.
package escrowerr

import (
	"github.com/zeebo/errs"
)

var (
	UnregisteredAsset          = errs.Class("unregistered asset")
	Unauthorized               = errs.Class("unauthorized")
	NotFound                   = errs.Class("not found")
	AlreadyCancelled           = errs.Class("order already cancelled")
	AlreadyFilled              = errs.Class("order already filled")
	WrongAsset                 = errs.Class("wrong asset")
	NonZeroAmountRequired      = errs.Class("amount must be zero")
	ArithmeticUnderflow        = errs.Class("arithmetic underflow")
	ArithmeticOverflow         = errs.Class("arithmetic overflow")
	ImplementationLimitReached = errs.Class("implementation limit reached")
	InvalidAmount              = errs.Class("invalid amount")
	InvalidMessage             = errs.Class("invalid message")
	NotInitialized             = errs.Class("not initialized")
)

// classes is ordered; Code reports the first class that matches.
var classes = []struct {
	class *errs.Class
	code  string
}{
	{&UnregisteredAsset, "unregistered_asset"},
	{&Unauthorized, "unauthorized"},
	{&NotFound, "not_found"},
	{&AlreadyCancelled, "already_cancelled"},
	{&AlreadyFilled, "already_filled"},
	{&WrongAsset, "wrong_asset"},
	{&NonZeroAmountRequired, "non_zero_amount_required"},
	{&ArithmeticUnderflow, "arithmetic_underflow"},
	{&ArithmeticOverflow, "arithmetic_overflow"},
	{&ImplementationLimitReached, "implementation_limit_reached"},
	{&InvalidAmount, "invalid_amount"},
	{&InvalidMessage, "invalid_message"},
	{&NotInitialized, "not_initialized"},
}

// Code returns a stable machine-readable code for err.
// Errors outside the taxonomy map to "internal"; nil maps to "ok".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range classes {
		if c.class.Has(err) {
			return c.code
		}
	}
	return "internal"
}

// IsClientError reports whether err belongs to the taxonomy, i.e. was caused
// by the invocation itself rather than by storage or settlement failures.
func IsClientError(err error) bool {
	code := Code(err)
	return code != "ok" && code != "internal"
}
