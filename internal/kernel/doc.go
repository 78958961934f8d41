// Package kernel owns the in-process message transport the IPC layer runs on.
//
// Ownership boundary:
// - point-to-point channels with blocking send/receive/reply
// - named ports that queue new sessions for acceptance
// - capability handle tables with move/copy semantics
//
// Messages are single bounded buffers; nothing here parses their contents.
package kernel
