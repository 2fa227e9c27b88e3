// Package config loads TextRelay settings from an optional .env file, a YAML
// or JSON file and TEXTRELAY_* environment variables, then validates them.
package config
