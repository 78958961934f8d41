// Package node assembles one capipc process.
//
// Ownership boundary:
// - the registry, its bootstrap port and the server that answers it
// - the local server hosting fallback services
// - the admin HTTP listener
// - startup order and shutdown
package node
