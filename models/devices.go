// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Device roles within an assembly
const (
	RoleVoter    = "voter"
	RoleOperator = "operator"
)

// Device platforms
const (
	PlatformIOS     = "ios"
	PlatformMacOS   = "macos"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

type RegisterDeviceRequest struct {
	Platform string `json:"platform"`
}

type RegisterDeviceResponse struct {
	DeviceID string `json:"device_id"`
	IsNew    bool   `json:"is_new"`
}

type DeviceInfo struct {
	ID         string    `json:"device_id"`
	Platform   string    `json:"platform"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type DeviceAssemblySummary struct {
	AssemblyID string    `json:"assembly_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Role       string    `json:"role"`
	LinkedAt   time.Time `json:"linked_at"`
	VotesCast  int       `json:"votes_cast"`
}

type GetMyAssembliesResponse struct {
	Assemblies []DeviceAssemblySummary `json:"assemblies"`
}
