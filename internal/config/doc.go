// Package config loads pixops settings from a KEY=VALUE env file, the process
// environment and explicit overrides, in that order of increasing precedence.
// The process environment is read, never written.
package config
