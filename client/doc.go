// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package client is the operator and voter side of a live assembly.

# API

API wraps the REST surface with resty. Every call takes a context and
returns one of three error kinds:

  - *TransportError: the network failed or the server answered 5xx, 408
    or 429. Safe to retry.
  - *ConflictError: the server refused the operation (409, 403, 404).
    The message is shown to the user as-is; retrying will not help.
  - *ValidationError: the input was rejected before or by the server.

# Views

A View is one open assembly screen. It owns a stream.Client, a
dispatch.Dispatcher and a cache.Cache, and polls every five seconds as a
fallback for missed events:

	v := client.NewView(api, assemblyID)
	v.Start(ctx)
	defer v.Close()

	snap, err := v.Quorum(ctx)

Events never carry data into the cache. They only mark keys stale, and
the cache refetches them from the API.

# Check-in

CheckinEngine validates a QR identifier and a unit selection locally,
submits them as one request and invalidates attendance and quorum when
the server accepts. A second submission while one is in flight fails
with ErrSubmissionInFlight.

# Voting

VoteSubmitter checks the voter binding, then casts the vote with a
fixed number of retries for transport failures. Conflicts are returned
at once.
*/
package client
