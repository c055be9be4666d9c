// Package config loads, normalizes, and validates ytauto configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env file, and honours environment
// fallbacks such as DRY_RUN, LOG_LEVEL, and SCHEDULE_<LINE>. The Config type
// centralizes every knob the daemon and CLI need: orchestrator sizing, retry
// policies, provider backends, and the content lines with their schedules
// and stage chains.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, resolved provider chains, and ConfigurationError values
// on invalid input.
package config
