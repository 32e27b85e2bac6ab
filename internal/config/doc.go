// Package config handles configuration loading for passkey-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, defaults, and validation.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  admin_jwt_secret: "${PASSKEY_ADMIN_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	tokens:
//	  register_ttl: "2m"
//	  step_up_ttl: "5m"
//	signing_keys:
//	  retention: "720h"
//
// Maintenance jobs take a UTC time of day and a period:
//
//	maintenance:
//	  purge_signing_keys:
//	    enabled: true
//	    time_of_day: "03:00"
//	    period: "24h"
//
// # Reloading
//
// Provider keeps the active Config behind an atomic pointer. The server calls
// Reload on SIGHUP; a file that fails to load or validate leaves the previous
// configuration in place. Listener address and database path are read once at
// startup and need a restart to change.
package config
