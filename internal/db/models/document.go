// Package models - document.go defines tenant documents stored inside an
// organization namespace and the marker document that proves a namespace exists.
package models

import "time"

// MarkerField is the key that identifies the marker document in a namespace.
const MarkerField = "_initialized"

// Document is one tenant document inside a namespace.
type Document struct {
	ID        string                 `json:"id"`
	Body      map[string]interface{} `json:"body"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewMarkerBody returns the body of a fresh marker document.
func NewMarkerBody(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		MarkerField:  true,
		"created_at": now.UTC(),
	}
}

// IsMarker reports whether body is a marker document body.
func IsMarker(body map[string]interface{}) bool {
	v, ok := body[MarkerField].(bool)
	return ok && v
}
