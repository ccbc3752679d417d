package models

import (
	"encoding/json"
	"time"
)

// Diagram is the cache and durable-store entity for a user's thinking map.
// CreatedAt is immutable after create; ID is server-assigned.
type Diagram struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	DiagramType string          `json:"diagram_type"`
	Spec        json.RawMessage `json:"spec"`
	Language    string          `json:"language"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	IsDeleted   bool            `json:"is_deleted"`
	IsPinned    bool            `json:"is_pinned"`
}

// CreateDiagramRequest carries the caller-supplied fields for a new diagram.
type CreateDiagramRequest struct {
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	DiagramType string          `json:"diagram_type"`
	Spec        json.RawMessage `json:"spec"`
	Language    string          `json:"language"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
}

// UpdateDiagramRequest is a partial patch. Nil pointers leave the stored
// value untouched; CreatedAt can never be changed.
type UpdateDiagramRequest struct {
	Title     *string         `json:"title,omitempty"`
	Spec      json.RawMessage `json:"spec,omitempty"`
	Thumbnail *string         `json:"thumbnail,omitempty"`
	IsPinned  *bool           `json:"is_pinned,omitempty"`
}

// DiagramPage is one page of a user's diagram listing.
type DiagramPage struct {
	Diagrams []*Diagram `json:"diagrams"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}
