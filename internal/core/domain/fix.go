package domain

import (
	"fmt"
	"time"
)

// SourceKind describes how a fix was most likely produced.
// It is always derived by the classifier, never taken from input.
type SourceKind string

const (
	SourceSatellite SourceKind = "satellite"
	SourceNetwork   SourceKind = "network"
	SourceManual    SourceKind = "manual"
	SourceUnknown   SourceKind = "unknown"
)

// Role marks semantically significant fixes.
type Role string

const (
	RoleNone    Role = ""
	RoleStart   Role = "start"
	RoleCurrent Role = "current"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleStart, RoleCurrent:
		return true
	}
	return false
}

// RawFix is a positioning sample as reported by a device, before classification.
// Latitude and Longitude are pointers so a missing coordinate is never read as 0.
// ID and Address are only set when the fix is relayed from another store.
// Manual is never decoded from a payload; only the pin-drop handler sets it.
type RawFix struct {
	ID             string    `json:"id,omitempty"`
	EntityID       string    `json:"entity_id"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
	Speed          *float64  `json:"speed,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Manual         bool      `json:"-"`
	Address        string    `json:"address,omitempty"`
}

// Fix is an accepted, classified positioning sample. Immutable once stored.
type Fix struct {
	ID             string     `json:"id,omitempty"`
	EntityID       string     `json:"entity_id"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	CapturedAt     time.Time  `json:"captured_at"`
	SourceKind     SourceKind `json:"source_kind"`
	Degraded       bool       `json:"degraded,omitempty"`
	Address        string     `json:"address,omitempty"`
	Role           Role       `json:"role,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`   // m/s
	Heading        *float64   `json:"heading,omitempty"` // degrees
	ReceivedAt     time.Time  `json:"received_at,omitempty"`
}

// HasTimestamp reports whether the device supplied a capture time.
func (f Fix) HasTimestamp() bool {
	return !f.CapturedAt.IsZero()
}

// Point returns the fix coordinate.
func (f Fix) Point() GeoPoint {
	return GeoPoint{Lat: f.Latitude, Lon: f.Longitude}
}

// DisplayLabel returns the address, falling back to raw coordinates.
func (f Fix) DisplayLabel() string {
	if f.Address != "" {
		return f.Address
	}
	return FormatCoordinates(f.Latitude, f.Longitude)
}

// FormatCoordinates renders a coordinate pair for display when no address is known.
func FormatCoordinates(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

// Path is the ordered, de-duplicated sequence of fixes for one entity.
type Path struct {
	EntityID string `json:"entity_id"`
	Fixes    []Fix  `json:"fixes"`
}

// Len returns the number of fixes in the path.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Fixes)
}

// Last returns the most recent fix, if any.
func (p *Path) Last() (Fix, bool) {
	if p.Len() == 0 {
		return Fix{}, false
	}
	return p.Fixes[len(p.Fixes)-1], true
}

// DateCount is one availability index entry.
type DateCount struct {
	EntityID string `json:"entity_id"`
	Date     string `json:"date"` // YYYY-MM-DD in the caller's timezone
	Count    int    `json:"count"`
}

// PathSummary aggregates a slice of a path.
type PathSummary struct {
	EntityID       string     `json:"entity_id"`
	FixCount       int        `json:"fix_count"`
	DegradedCount  int        `json:"degraded_count"`
	First          *time.Time `json:"first,omitempty"`
	Last           *time.Time `json:"last,omitempty"`
	DistanceMeters float64    `json:"distance_meters"`
	Bounds         *Bounds    `json:"bounds,omitempty"`
}

// TrackingStatus tells a stalled path apart from absent signal.
type TrackingStatus struct {
	EntityID       string     `json:"entity_id"`
	Observing      bool       `json:"observing"`
	AcceptedCount  int        `json:"accepted_count"`
	RejectedCount  int        `json:"rejected_count"`
	LastAcceptedAt *time.Time `json:"last_accepted_at,omitempty"`
	LastRejectedAt *time.Time `json:"last_rejected_at,omitempty"`
	LastRejection  string     `json:"last_rejection,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	// FutureFixCount counts synced fixes stamped ahead of the server clock.
	FutureFixCount int `json:"future_fix_count,omitempty"`
}
