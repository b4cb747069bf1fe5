// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the Quickly Quorum API server.

Quickly Quorum runs condominium assemblies live: the check-in desk binds
units to printed QR codes, the quorum is the sum of the ideal fractions
of the units present, and every voter device votes on the open agenda
for all the units its QR code stands for.

# Starting the Server

The server reads environment variables (optionally from a .env file) and
CLI flags:

	DATABASE_URL=quorum.db OPERATOR_KEY_SALT=... go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..."

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite file path or PostgreSQL connection string
  - OPERATOR_KEY_SALT (--operator-salt): Secret for operator key HMAC

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - PUBLIC_URL (--public-url): Base of the voting links in QR codes
  - QUORUM_THRESHOLD (--quorum): Percent of ideal fraction (default: 50)
  - HEARTBEAT_INTERVAL (--heartbeat): Idle stream heartbeat (default: 30s)
  - REDIS_URL (--redis): Fan out live updates across instances
  - VOTE_RATE_LIMIT, VOTE_RATE_BURST: Per-client vote submission budget

# Architecture

Server side:

  - handlers: HTTP request handlers (assemblies, check-in, agendas, voting, streams)
  - router: Route definitions using Go 1.22+ routing
  - broadcast: In-process and Redis fan-out of assembly events
  - middleware: CORS, logging, rate limiting, JSON helpers
  - db: Connections and schema for SQLite and PostgreSQL

Client side:

  - client: REST client, check-in engine, vote protocol and live views
  - stream: SSE and WebSocket event stream with reconnection
  - dispatch: Event routing to subscribers
  - cache: Keyed fetch cache with in-flight deduplication
  - ownership: Owner to unit index and check-in selection
  - quorum: Quorum arithmetic shared by server and client

cmd/watch is a terminal dashboard built on the client package.
*/
package main
