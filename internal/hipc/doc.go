// Package hipc owns the service-side IPC runtime.
//
// Ownership boundary:
// - sessions in plain or domain mode and the objects they host
// - request decoding, command resolution, handler invocation, response encoding
// - one receive/dispatch/reply loop per session
// - a client helper that speaks both wire formats
//
// Lifecycle of one request:
// - parsing -> domain resolving -> lookup -> invoking -> encoding -> done
// - parsing failures and bad rich headers are rejected before any handler runs
//
// Handlers may block. Nothing here applies timeouts; a context from the
// transport is the only cancellation signal.
package hipc
