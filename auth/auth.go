// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidOperatorKey = errors.New("invalid operator key")
	ErrInvalidQRToken     = errors.New("invalid QR token format")
)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateOperatorKey creates an HMAC-based operator key for an assembly.
// Deterministic, so it never needs to be stored.
func GenerateOperatorKey(assemblyID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte("assembly:" + assemblyID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateOperatorKey checks if the provided operator key is valid for the assembly
func ValidateOperatorKey(assemblyID, operatorKey, salt string) error {
	expected := GenerateOperatorKey(assemblyID, salt)
	if !hmac.Equal([]byte(operatorKey), []byte(expected)) {
		return ErrInvalidOperatorKey
	}
	return nil
}

// GenerateQRToken creates the opaque token printed inside a QR code.
func GenerateQRToken() string {
	return uuid.NewString()
}

// NormalizeQRToken parses a scanned token and returns its canonical form.
func NormalizeQRToken(token string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return "", ErrInvalidQRToken
	}
	return parsed.String(), nil
}

// HashIP creates a one-way hash of an IP address for privacy
// Includes salt to prevent rainbow table attacks
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// Return first 16 hex chars (64 bits) - enough for deduplication
	return hex.EncodeToString(sum[:8])
}
