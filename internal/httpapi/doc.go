// Package httpapi exposes the account-security service over REST.
//
// The package owns exactly three concerns: decoding requests into service
// inputs, translating service errors onto the wire contract, and carrying
// the authenticated caller plus request origin through the context. All
// security decisions stay in internal/auth; a handler here never inspects
// an identity beyond rendering it.
package httpapi
