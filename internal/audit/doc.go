// Package audit buffers security events and delivers them to a sink.
//
// # Components
//
//   - [Sink] consumes events (channel, JSON lines, slog, no-op).
//   - [Dispatcher] relays events from a bounded buffer, dropping or
//     blocking when full.
//   - [Event] is one record: type, user, family, client IP, outcome code.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The engine decides which events
// to emit.
//
// # What this package must NOT do
//
//   - Filter events on business rules.
//   - Import sessionguard or any sibling internal package.
//   - Record fingerprint hashes or raw request metadata.
package audit
