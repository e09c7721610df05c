// Package sessionguard issues and rotates session credentials for the
// storefront API and detects stolen refresh tokens.
//
// Every login starts a session family. Each refresh exchanges the presented
// refresh token for a new pair in the same family and puts the old token on
// an invalidation ledger. A refresh token presented twice, from another
// device fingerprint, or too often within a short window is treated as
// theft: the family is flagged and every token it issued stops working.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// sessionguard is the public surface. It exposes [Engine], [Builder],
// [Config], the tagged [Error] values and plain result types (TokenPair,
// Claims, SessionInfo). Flow orchestration and audit dispatch live under
// internal/; Redis layout lives in the session and ledger packages.
//
// # What this package must NOT do
//
//   - Expose Redis clients or fingerprint hashes in its public API.
//   - Retry a failed rotation. Reuse and compromise are reported, never
//     papered over.
//   - Import any sub-package that re-imports sessionguard.
//
// # Deployment
//
// The rotation script derives the user index key at run time, so a Redis
// Cluster deployment is not supported. Use a single node or Sentinel.
package sessionguard
