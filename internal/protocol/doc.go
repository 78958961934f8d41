// Package protocol owns wire contract and parsing primitives.
//
// Ownership boundary:
// - outer message header (tag + raw size)
// - light format: tag-encoded command, result-only response header
// - rich format: magic/version/command header, domain sub-headers, control
// - payload cursor primitives
//
// All multi-byte fields are little-endian.
package protocol
