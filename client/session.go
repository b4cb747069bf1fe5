// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"net/http"
	"strings"
)

// Session carries the identity a client presents. It is passed to each
// component explicitly.
type Session struct {
	BaseURL     string
	OperatorKey string // X-Operator-Key for operator endpoints
	QRToken     string // voter identity, the token printed on the QR code
	DeviceUUID  string // optional X-Device-UUID
}

// Header returns the auth headers for streams and requests.
func (s Session) Header() http.Header {
	h := http.Header{}
	if s.OperatorKey != "" {
		h.Set("X-Operator-Key", s.OperatorKey)
	}
	if s.DeviceUUID != "" {
		h.Set("X-Device-UUID", s.DeviceUUID)
	}
	return h
}

func (s Session) base() string {
	return strings.TrimRight(s.BaseURL, "/")
}
