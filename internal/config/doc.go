// Package config loads, validates, and normalizes glimpse's TOML
// configuration. Values pass through Default() -> file decode -> normalize ->
// Validate, so code consuming a *Config can rely on expanded paths and
// in-range generation parameters.
package config
