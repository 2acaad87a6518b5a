// Package config loads and validates the link tester configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file, and LLT_* environment variable overrides. The radio section is
// immutable once a transport has been opened with it; changing modulation
// parameters requires reopening the transport.
package config
