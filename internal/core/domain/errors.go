package domain

import "errors"

// Session errors.
var (
	ErrNoSession           = errors.New("no session")
	ErrMalformedUser       = errors.New("malformed user value")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshFailed       = errors.New("session refresh failed")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Fetch errors surfaced by the safe-fetch wrapper.
var (
	ErrRetryCeiling  = errors.New("retry ceiling reached")
	ErrFetchInFlight = errors.New("fetch already in flight")
	ErrRateLimited   = errors.New("fetch rate limited")
)

// Project and payment errors.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("access forbidden")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInvalidCheckout   = errors.New("invalid checkout data")
	ErrPaymentIncomplete = errors.New("payment not completed")
	ErrCheckoutNotFound  = errors.New("checkout session not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrServerUnavailable = errors.New("api server unavailable")
)
