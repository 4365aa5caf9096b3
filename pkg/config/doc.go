// Package config loads the broker configuration from a YAML file, applies
// defaults and environment overrides, and validates the result.
package config
