// Package config defines the application configuration structure and loading
// logic. Settings come from an optional YAML file and from CADENZA_-prefixed
// environment variables, with env vars taking precedence, and are validated
// before the process starts any component.
package config
