// Package config loads, normalizes, and validates reelflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for
// credentials such as RENDERER_API_KEY or REELFLOW_API_TOKEN. The Config type
// centralizes every knob the daemon and CLI need: stuck thresholds, retry caps,
// lease backend, vendor endpoints, and the brand partitions.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
