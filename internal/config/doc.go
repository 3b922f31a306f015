// Package config loads the daemon's JSON configuration, applies defaults and
// reads credentials from the environment (optionally seeded from a .env
// file). A missing credential is reported as a startup failure.
package config
