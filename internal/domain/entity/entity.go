// Package entity defines the cached domain records held by the local store.
package entity

import (
	"encoding/json"
	"strings"
	"time"
)

// Common status values used by the remote service for filtered listings.
const (
	StatusUpcoming  = "upcoming"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Entity is a domain record cached locally, such as a shoot or a performance summary.
// Identity is opaque; the store keeps exactly one row per ID (last write wins).
type Entity struct {
	ID        string          // Opaque identity assigned by the server (or client for local drafts)
	Kind      string          // Collection label, e.g. "shoot" or "performance"
	Status    string          // Category used by filtered queries
	Title     string          // Optional human-readable label
	Data      json.RawMessage // Full server record, kept verbatim
	UpdatedAt time.Time       // Last local mutation
	SyncedAt  *time.Time      // Last confirmed server agreement (nil if never confirmed)
}

// IsSynced reports whether the record has been confirmed by the server since its last local change.
func (e *Entity) IsSynced() bool {
	if e.SyncedAt == nil {
		return false
	}
	return !e.SyncedAt.Before(e.UpdatedAt)
}

// Patch describes an optimistic change to a cached entity.
// Nil fields are left untouched.
type Patch struct {
	EntityID string
	Status   *string
	Title    *string
	Delete   bool
}

// Apply mutates e according to the patch and stamps UpdatedAt.
func (p *Patch) Apply(e *Entity, now time.Time) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	e.UpdatedAt = now
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p == nil || p.EntityID == "" || (p.Status == nil && p.Title == nil && !p.Delete)
}

// SortField selects the column used to order query results.
type SortField string

const (
	SortByUpdatedAt SortField = "updated_at"
	SortBySyncedAt  SortField = "synced_at"
	SortByTitle     SortField = "title"
	SortByID        SortField = "id"
)

// Filter is a simple predicate plus sort order for store queries.
type Filter struct {
	Status     string    // Exact match; empty matches all
	Kind       string    // Exact match; empty matches all
	OrderBy    SortField // Defaults to SortByUpdatedAt
	Descending bool
	Limit      int // 0 means unlimited
}

// ValidSortField reports whether f is a known sort column.
func ValidSortField(f SortField) bool {
	switch f {
	case SortByUpdatedAt, SortBySyncedAt, SortByTitle, SortByID:
		return true
	}
	return false
}

// wireEntity is the JSON shape returned by the remote service.
type wireEntity struct {
	ID       string `json:"id"`
	MongoID  string `json:"_id"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Modified string `json:"updatedAt"`
}

// FromJSON decodes one remote record, accepting either "id" or "_id" as identity.
// The raw bytes are kept in Data so fields unknown to the cache survive round trips.
func FromJSON(raw json.RawMessage) (Entity, error) {
	var w wireEntity
	if err := json.Unmarshal(raw, &w); err != nil {
		return Entity{}, err
	}

	e := Entity{
		ID:     w.ID,
		Kind:   w.Kind,
		Status: w.Status,
		Title:  w.Title,
		Data:   append(json.RawMessage(nil), raw...),
	}
	if e.ID == "" {
		e.ID = w.MongoID
	}
	if e.Kind == "" {
		e.Kind = w.Type
	}
	if e.Title == "" {
		e.Title = w.Name
	}
	if w.Modified != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.Modified); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

// FromJSONList decodes a remote array, skipping records without identity.
func FromJSONList(raw json.RawMessage) ([]Entity, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	result := make([]Entity, 0, len(items))
	for _, item := range items {
		e, err := FromJSON(item)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.ID) == "" {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}
