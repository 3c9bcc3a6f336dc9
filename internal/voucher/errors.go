package voucher

import "errors"

// Lifecycle failures are benign and user-facing; they must never be
// conflated with the token package's tamper/format errors, which indicate
// attempted abuse and are logged as security events.
var (
	ErrNotFound        = errors.New("voucher not found")
	ErrAlreadyRedeemed = errors.New("voucher already redeemed")
	ErrExpired         = errors.New("voucher expired")
	ErrRateLimited     = errors.New("too many validation attempts")
)
