// Package gateway holds the HTTP clients for external money movement:
// a bank transfer provider used for escrow holds and releases, and a
// card processor used to fund escrow by direct debit.
//
// Both providers are upstreams we do not control. Errors are collapsed
// into a small set so the payments layer can decide between retry,
// reversal, and surfacing to the user without parsing provider bodies.
package gateway

import "errors"

var (
	// ErrUnavailable means the provider timed out or returned a 5xx.
	// The operation may or may not have been applied upstream.
	ErrUnavailable = errors.New("gateway: provider unavailable")
	// ErrDeclined means the provider processed and refused the operation.
	ErrDeclined = errors.New("gateway: operation declined")
	// ErrInvalidAccount means an account lookup found no such account.
	ErrInvalidAccount = errors.New("gateway: account not found")
)
