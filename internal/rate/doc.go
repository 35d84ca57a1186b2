// Package rate enforces Redis-backed request throttles for the abuse-prone
// authentication endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key
// prefixes:
//   - rl:login:u:  - login per-username
//   - rl:login:ip: - login per-IP
//   - rl:reset:    - password-reset requests per-email and per-IP
//   - rl:reg:      - registrations per-IP
//   - rl:resend:   - verification resends per-identity
//
// # Relation to account lockout
//
// Throttles bound request volume; the failed-login lockout on the identity
// row is the credential-guessing defence. A nil Redis client disables every
// throttle, lockout still applies.
package rate
