// Package command owns per-type command tables.
//
// Ownership boundary:
// - explicit (id, name, handler) registration per exact Go type
// - one table per wire format
// - process-wide cache, built once per type on first use
//
// A table belongs to exactly one dynamic type. A type that embeds another
// service type does not inherit its commands; it declares its own.
package command
