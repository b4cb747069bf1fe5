// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

Values are read from the environment first (struct tags parsed by
caarlos0/env), then CLI flags override them. LoadDotEnv can seed the
environment from a .env file before ParseFlags runs.

# Config Fields

  - Port: Server listen port (default: 3318)
  - DatabaseURL: SQLite path or PostgreSQL connection string (required)
  - DatabaseType: sqlite or postgres (default: sqlite)
  - OperatorKeySalt: Secret for operator key HMAC (required)
  - PublicURL: Base of the voting links printed on QR codes
  - QuorumThreshold: Percent of ideal fraction needed for quorum (default: 50)
  - HeartbeatInterval: Idle time before a stream heartbeat (default: 30s)
  - RedisURL: Optional Redis for broadcasts across server instances
  - VoteRateLimit, VoteRateBurst: Per-client limit on vote submissions

# CLI Flags

	-p               Server port
	-d               Database URL
	-t               Database type
	-operator-salt   Operator key salt
	-public-url      Public base URL
	-redis           Redis URL
	-quorum          Quorum threshold
	-heartbeat       Stream heartbeat interval
	-vote-rate       Vote submissions per second
	-vote-burst      Vote submission burst

# Environment Variables

	PORT, DATABASE_URL, DATABASE_TYPE, OPERATOR_KEY_SALT, PUBLIC_URL,
	QUORUM_THRESHOLD, HEARTBEAT_INTERVAL, REDIS_URL, VOTE_RATE_LIMIT,
	VOTE_RATE_BURST

CLI flags take precedence over environment variables.

# Validation

ParseFlags returns an error if:

  - DATABASE_URL is missing
  - DATABASE_TYPE is neither sqlite nor postgres
  - OPERATOR_KEY_SALT is missing
  - the quorum threshold is outside (0, 100]
*/
package cliparse
