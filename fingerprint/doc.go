// Package fingerprint derives a stable device identity hash from typed request metadata.
//
// The hash, never the raw metadata, is what callers persist and compare. Device
// descriptions (type, browser, OS) come from user-agent heuristics and are for display
// only; they never take part in security decisions.
//
// # What this package must NOT do
//
//   - Perform I/O or keep state.
//   - Depend on a web framework; [FromRequest] only reads a *http.Request.
package fingerprint
