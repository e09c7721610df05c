// Package middleware adapts the engine to net/http.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores its claims in
//     the request context.
//   - [RequireRole] rejects requests whose claims carry another role.
//
// # Handlers
//
// [Handlers] serves refresh, logout, logout-everywhere and session
// listing. The refresh token travels only in the refreshToken cookie
// (HttpOnly, Secure, SameSite=Strict, Path=/auth); it is cleared whenever
// a rotation fails a family security check.
//
// This package decides nothing about tokens itself. Every verdict comes
// from the engine and is mapped to a status by [StatusFor].
package middleware
