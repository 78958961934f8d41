// Package config loads the capipc runtime configuration.
//
// Ownership boundary:
// - the TOML file shape and its defaults
// - CAPIPC_* environment overrides
// - validation and the starter template
// - conversion into hipc and registry options
//
// Precedence is flag > env > file > default. Flags are applied by the CLI.
package config
