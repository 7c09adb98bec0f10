// Package config loads, normalizes, and validates textmill configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TEXTMILL_INPUT_DIR. The Config type centralizes every knob the catalog,
// content reader, and extraction pipeline need, including the text encoding and
// the decode-error policy applied to archive members.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extension lists, and clear validation errors.
package config
