// Package auth orchestrates every account-security operation: registration,
// login with lockout and MFA, token refresh, password reset, email
// verification, MFA enrollment and the admin overrides.
//
// # Architecture boundaries
//
// The Service owns no state of its own. Identities live behind
// [identity.Store], credentials behind [password.Hasher], tokens behind
// [token.Manager], throttle counters behind [rate.Limiter]. Flows coordinate
// those collaborators and nothing else.
//
// Every mutation follows the same shape: read a snapshot, apply a pure
// transition from the identity package, persist with a version-conditional
// write, retry from a fresh read on conflict. The store commits the audit
// record in the same transaction as the mutation; the async emitter relay
// happens after commit and is best-effort.
package auth
