// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides operator keys, QR tokens and id generation.

# Operator Keys

Operator keys use HMAC-SHA256 over the assembly ID:

	key := auth.GenerateOperatorKey(assemblyID, salt)
	err := auth.ValidateOperatorKey(assemblyID, key, salt)

The key is deterministic, so the server validates it without storing it.
Operator endpoints (check-in, undo, agenda transitions, vote invalidation)
expect it in the X-Operator-Key header.

# QR Tokens

QR tokens are random UUIDv4 strings printed inside the QR artifact:

	token := auth.GenerateQRToken()
	canonical, err := auth.NormalizeQRToken(scanned)

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters

# IP Hashing

Votes keep a salted hash of the client address for audit:

	hash := auth.HashIP(ipAddress, salt)
*/
package auth
