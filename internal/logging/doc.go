// Package logging owns process logger setup.
//
// Ownership boundary:
// - runtime/test profiles and env overrides
// - printf-style entry points used across the code base
// - runtime level changes
package logging
