// Package session provides the Redis-backed session family store.
//
// A family is the durable record of one login across refresh-token
// rotations. It is stored as a Redis hash with secondary indexes for the
// owning user, validity deadline, last activity and compromise state.
//
// # Rotation
//
// [Store.Rotate] is a single Lua script. It checks the invalidation ledger,
// the family state, rotation velocity and the device fingerprint, then
// records the rotation and invalidates the used refresh token. Either all
// of those writes happen or none do, except that a detected reuse sets the
// permanent compromise flag.
//
// # What this package must NOT do
//
//   - Import sessionguard, jwt or fingerprint (no upward imports).
//   - Store raw request metadata; only the fingerprint hash is persisted.
//   - Clear a reuse flag once set.
package session
