// Package ledger implements the durable invalidation ledger: one Redis record per revoked
// token identifier (jti), or per revoked family, expiring shortly after the credential it
// blocks would have expired anyway.
//
// # Architecture boundaries
//
// The ledger owns record keys and the two maintenance indexes (expiry zset and jti→family
// hash). The family store writes ledger records from inside its rotation script through the
// key accessors exported here, so rotation and invalidation commit together.
//
// # What this package must NOT do
//
//   - Interpret token claims or family state.
//   - Keep an in-process cache of revoked identifiers.
package ledger
