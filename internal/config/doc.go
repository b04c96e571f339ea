// Package config loads, normalizes, and validates audiorelay configuration data.
//
// It supplies repository defaults (strategy order, client profiles, remote
// conversion services, the fallback clip), expands user paths, reads TOML
// files, and honours environment overrides such as PORT and RAPIDAPI_KEY. The
// Config type centralizes every knob the daemon and CLI need so the
// resolution pipeline can be assembled in one pass.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
