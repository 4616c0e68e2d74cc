// Package protocol owns the wire contract shared by the codec, the
// transport and the dispatcher.
//
// Ownership boundary:
// - message type identifiers
// - preamble layout constants and payload bounds
// - protocol-level error sentinels
package protocol
