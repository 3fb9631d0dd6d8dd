// Package config handles configuration loading for coven-turns.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${COVEN_TURNS_DB}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	scheduler:
//	  tick_interval: "90s"
//	  tick_jitter: "15s"
//	  suppression_window: "4s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/coven/turns.db"
//
// Scheduler:
//
//	scheduler:
//	  tick_interval: "90s"         # base ambient sweep interval
//	  tick_jitter: "15s"           # +/- randomization per sweep
//	  sweep_budget: 8              # max turns per sweep, all channels
//	  max_turns_per_tick: 3        # max turns per channel per tick
//	  suppression_window: "4s"     # ambient quiet period after a human message
//	  human_activity_window: "10m" # lookback for the active-human estimate
//	  agent_cooldown: "10m"        # minimum gap between one agent's ambient turns
//	  channel_scan_limit: 50       # channels visited per sweep
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Communities:
//
//	communities:
//	  - id: "homestead"
//	    channels: ["lounge", "workshop"]
//	    agents:
//	      - id: "rook"
//	        display_name: "Rook"
//	        emoji: "🐦"
package config
