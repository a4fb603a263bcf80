// Package config loads, normalizes, and validates vidflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies VIDFLOW_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need: admission
// limits, per-stage retry budgets and timeouts, queue worker sizing, relays,
// and stage processor binaries.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
