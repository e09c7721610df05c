// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunVerify, RunRotate, RunLogout, etc.)
// accepts a typed dependency struct and returns a result carrying a failure
// kind instead of a root-level error. The Engine maps failure kinds to its
// tagged errors, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate the token manager, the family store and the
// invalidation ledger. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import sessionguard (to avoid import cycles).
//   - Retry store failures on the request path.
package flows
