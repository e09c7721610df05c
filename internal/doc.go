// Package internal contains helper utilities that are intentionally private to sessionguard,
// including secure identifier generation.
//
// # Sub-packages
//
//   - flows: pure-function orchestrators for issue, verify, rotate and logout
//   - retry: bounded backoff for background store maintenance
//   - envconfig: environment/.env loading for the server binary
//   - audit: buffered event dispatcher and sinks
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionguard API.
//   - Be imported by any package outside the sessionguard module.
package internal
