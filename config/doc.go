// Package config loads database configuration from YAML files and SQLPOOL_*
// environment variables.
//
//	driver: pgx
//	dsn: postgres://app@db-0/app
//	max_connections: 16
//	pool_timeout: 2s
//	servers:
//	  eu: {max_connections: 8}
//	shard_dsns:
//	  eu: postgres://app@db-eu/app
//	isolation: repeatable
//
// Environment variables override file values, e.g. SQLPOOL_MAX_CONNECTIONS=32.
package config
