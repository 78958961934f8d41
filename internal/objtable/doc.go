// Package objtable owns slot-allocated id->object tables.
//
// Ownership boundary:
// - id allocation with free-list reuse
// - lookup, removal and bulk clear with dispose
//
// Tables are not synchronized; owners serialize access.
package objtable
