// Package result owns the (module, description) result code shape that
// every handler returns and every response carries.
package result
