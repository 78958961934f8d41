// Package registry is the name service that resolves service names to
// sessions.
//
// Ownership boundary:
// - the name -> port table and its exclusivity rules
// - local fallback factories for names no process has registered
// - the missing-service policy
// - the per-connection UserInterface object clients bootstrap through
//
// A Registry is constructed once at startup, passed by reference to whatever
// needs it, and closed at shutdown.
package registry
