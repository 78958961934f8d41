// Package observability owns metrics and the admin HTTP surface.
//
// Ownership boundary:
// - prometheus collectors for dispatch, sessions, registry and HTTP
// - the Recorder that feeds them from hipc and registry callbacks
// - the gin admin router and its middleware
package observability
