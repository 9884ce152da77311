// Package config loads the service configuration from YAML. Every section
// has defaults (see Default) and its own Validate; secrets can be supplied
// through the environment or a .env file instead of the YAML file.
package config
