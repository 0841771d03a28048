// Package config handles configuration loading for disco-collab.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion,
// defaults for optional fields, and validation.
//
// # Configuration File
//
// Location (in order):
//
//  1. Path passed with --config
//  2. Path from DISCO_CONFIG environment variable
//  3. disco-collab/config.yaml under the user config directory
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${DISCO_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	collaboration:
//	  idle_timeout: "30m"
//	  ping_interval: "30s"
//
// # Configuration Sections
//
//	server:          grpc_addr, http_addr
//	tailscale:       enabled, hostname, auth_key, state_dir, ephemeral
//	database:        path (event ledger)
//	auth:            jwt_secret (empty means anonymous mode)
//	collaboration:   echo_to_author, max_content_bytes, idle_timeout,
//	                 workspace_root, ping_interval, rate_limit, rate_burst
//	relay:           redis_url, channel
//	logging:         level, format (text or json)
//	metrics:         enabled, path
//
// idle_timeout is unset by default, so sessions live until their last
// participant leaves.
package config
