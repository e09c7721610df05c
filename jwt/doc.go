// Package jwt mints and verifies the signed access/refresh credentials of a session family.
//
// Both token kinds use HMAC-SHA256 with separate secrets. The kind is carried in the
// "typ" claim and selects the verification secret, so a token presented to the wrong
// consumer is reported as a type error rather than a signature error.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Decide invalidation or family state; callers own that.
package jwt
